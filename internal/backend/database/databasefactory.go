package database

import (
	"fmt"
	"log/slog"
)

const (
	TypeFile     = "file"
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
	TypeRedis    = "redis"
)

func NewSubscriptionStore(databaseType, connectionString string) (store SubscriptionStore, err error) {
	switch databaseType {
	case TypeFile, "":
		store, err = NewFileStore(connectionString)
	case TypeSQLite, TypePostgres:
		store, err = NewSQLStore(databaseType, connectionString)
	case TypeRedis:
		store, err = NewRedisStore(connectionString)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", databaseType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s subscription store: %w", databaseType, err)
	}

	slog.Info("subscription store initialized", "type", databaseType)
	return store, nil
}

func containsEndpoint(subs []Subscription, endpoint string) bool {
	for _, s := range subs {
		if s.Endpoint == endpoint {
			return true
		}
	}
	return false
}
