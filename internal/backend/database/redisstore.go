package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	subscriptionsKey = "photoqueue:subscriptions"
	maxWatchRetries  = 5
)

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisStore keeps the whole subscription set as one JSON value under a single key,
// so every rewrite is a single SET.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(connectionString string) (*RedisStore, error) {
	opts, err := redis.ParseURL(connectionString)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewRedisStoreFromClient(redis.NewClient(opts)), nil
}

func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, key: subscriptionsKey}
}

func (s *RedisStore) List(ctx context.Context) ([]Subscription, error) {
	return s.get(ctx, s.client)
}

// Add uses an optimistic WATCH transaction so concurrent adders never drop each other's entries.
func (s *RedisStore) Add(ctx context.Context, sub Subscription) (bool, error) {
	var added bool
	txf := func(tx *redis.Tx) error {
		subs, err := s.get(ctx, tx)
		if err != nil {
			return err
		}
		if containsEndpoint(subs, sub.Endpoint) {
			added = false
			return nil
		}
		data, err := json.Marshal(append(subs, sub))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.key, data, 0)
			return nil
		})
		if err == nil {
			added = true
		}
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, txf, s.key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return added, err
	}
	return false, fmt.Errorf("add subscription: gave up after %d conflicting writes", maxWatchRetries)
}

func (s *RedisStore) Replace(ctx context.Context, subs []Subscription) error {
	if subs == nil {
		subs = []Subscription{}
	}
	data, err := json.Marshal(subs)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key, data, 0).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) get(ctx context.Context, cmd getter) ([]Subscription, error) {
	data, err := cmd.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return []Subscription{}, nil
	}
	if err != nil {
		return nil, err
	}
	var subs []Subscription
	if err := json.Unmarshal(data, &subs); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.key, err)
	}
	if subs == nil {
		subs = []Subscription{}
	}
	return subs, nil
}
