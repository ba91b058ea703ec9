// Package push fans out notifications to every stored subscription and prunes
// the ones whose endpoints are gone.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jo-hoe/photoqueue/internal/backend/database"
)

const defaultConcurrency = 8

// Notification is the JSON payload shown by the client.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// Report summarizes one fanout.
type Report struct {
	Attempted int
	Delivered int
	Pruned    int
	Failed    int
}

// Service owns the subscription set. Every read-modify-write of the set goes
// through mu so that subscribing and pruning never interleave.
type Service struct {
	store       database.SubscriptionStore
	sender      Sender
	concurrency int
	mu          sync.Mutex
}

func NewService(store database.SubscriptionStore, sender Sender, concurrency int) *Service {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Service{
		store:       store,
		sender:      sender,
		concurrency: concurrency,
	}
}

// Subscribe stores sub unless its endpoint is already known.
func (s *Service) Subscribe(ctx context.Context, sub database.Subscription) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	added, err := s.store.Add(ctx, sub)
	if err != nil {
		return false, fmt.Errorf("failed to store subscription: %w", err)
	}
	if added {
		slog.Info("push subscription stored", "endpoint", sub.Endpoint)
	}
	return added, nil
}

// Subscriptions returns the current subscription set.
func (s *Service) Subscriptions(ctx context.Context) ([]database.Subscription, error) {
	return s.store.List(ctx)
}

// Notify sends n to all subscriptions concurrently. Subscriptions reported as
// gone are dropped in one rewrite after every send has resolved; any other
// failure keeps the subscription.
func (s *Service) Notify(ctx context.Context, n Notification) (Report, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return Report{}, fmt.Errorf("failed to encode notification: %w", err)
	}

	subs, err := s.store.List(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	report := Report{Attempted: len(subs)}
	if len(subs) == 0 {
		return report, nil
	}

	outcomes := make([]error, len(subs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, sub := range subs {
		i, sub := i, sub
		g.Go(func() error {
			outcomes[i] = s.sender.Send(gctx, sub, payload)
			return nil
		})
	}
	_ = g.Wait()

	gone := make(map[string]struct{})
	for i, outcome := range outcomes {
		switch {
		case outcome == nil:
			report.Delivered++
		case errors.Is(outcome, ErrGone):
			gone[subs[i].Endpoint] = struct{}{}
		default:
			report.Failed++
			slog.Warn("push delivery failed; keeping subscription",
				"endpoint", subs[i].Endpoint, "error", outcome)
		}
	}

	if len(gone) == 0 {
		return report, nil
	}

	pruned, err := s.prune(ctx, gone)
	report.Pruned = pruned
	if err != nil {
		return report, err
	}
	slog.Info("pruned gone push subscriptions", "count", pruned)
	return report, nil
}

// prune rewrites the set without the gone endpoints. It re-reads under the
// lock so subscriptions added during the fanout survive.
func (s *Service) prune(ctx context.Context, gone map[string]struct{}) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to re-read subscriptions: %w", err)
	}
	survivors := make([]database.Subscription, 0, len(current))
	for _, sub := range current {
		if _, isGone := gone[sub.Endpoint]; isGone {
			continue
		}
		survivors = append(survivors, sub)
	}

	pruned := len(current) - len(survivors)
	if pruned == 0 {
		return 0, nil
	}
	if err := s.store.Replace(ctx, survivors); err != nil {
		return 0, fmt.Errorf("failed to rewrite subscriptions: %w", err)
	}
	return pruned, nil
}
