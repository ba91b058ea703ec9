package database

import "context"

// SubscriptionStore persists the set of push subscriptions.
//
// Replace swaps the whole set in one atomic write; readers never observe a
// partially rewritten set.
type SubscriptionStore interface {
	List(ctx context.Context) ([]Subscription, error)
	// Add stores sub unless a subscription with the same endpoint exists.
	// It reports whether a new subscription was stored.
	Add(ctx context.Context, sub Subscription) (bool, error)
	Replace(ctx context.Context, subs []Subscription) error
	Close() error
}
