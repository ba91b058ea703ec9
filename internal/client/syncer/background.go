package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// SyncTag is the only background-sync tag that drains the queue.
const SyncTag = "sync-uploads"

var ErrSyncUnsupported = errors.New("background sync is not supported")

// Registrar schedules a deferred sync for a tag.
type Registrar interface {
	Supported() bool
	Register(ctx context.Context, tag string) error
}

// BackgroundSync keeps registered tags pending and dispatches them whenever
// the server is reachable, until the handler for a tag succeeds.
type BackgroundSync struct {
	enabled       bool
	retryInterval time.Duration
	wake          chan struct{}

	mu sync.Mutex
	// pending maps a tag to the number of times it was registered, so a
	// registration made while its handler runs keeps the tag pending.
	pending map[string]uint64
}

func NewBackgroundSync(enabled bool, retryInterval time.Duration) *BackgroundSync {
	if retryInterval <= 0 {
		retryInterval = 30 * time.Second
	}
	return &BackgroundSync{
		enabled:       enabled,
		retryInterval: retryInterval,
		wake:          make(chan struct{}, 1),
		pending:       map[string]uint64{},
	}
}

func (b *BackgroundSync) Supported() bool {
	return b.enabled
}

// Register marks tag pending. Registering a pending tag again is a no-op.
func (b *BackgroundSync) Register(_ context.Context, tag string) error {
	if !b.enabled {
		return ErrSyncUnsupported
	}
	b.mu.Lock()
	b.pending[tag]++
	b.mu.Unlock()
	b.Wake()
	return nil
}

func (b *BackgroundSync) Pending() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	tags := make([]string, 0, len(b.pending))
	for tag := range b.pending {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Wake asks Run to dispatch pending tags now.
func (b *BackgroundSync) Wake() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Dispatch runs handler once for every pending tag and clears the tags that
// succeeded.
func (b *BackgroundSync) Dispatch(ctx context.Context, handler func(ctx context.Context, tag string) error) {
	for _, tag := range b.Pending() {
		b.mu.Lock()
		generation := b.pending[tag]
		b.mu.Unlock()

		if err := handler(ctx, tag); err != nil {
			slog.Debug("background sync will retry", "tag", tag, "error", err)
			continue
		}

		b.mu.Lock()
		if b.pending[tag] == generation {
			delete(b.pending, tag)
		}
		b.mu.Unlock()
	}
}

// Run dispatches pending tags on every wake-up and retry tick while conn is online.
func (b *BackgroundSync) Run(ctx context.Context, conn Connectivity, handler func(ctx context.Context, tag string) error) error {
	if !b.enabled {
		return ErrSyncUnsupported
	}
	ticker := time.NewTicker(b.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.wake:
		case <-ticker.C:
		}
		if conn.Online() {
			b.Dispatch(ctx, handler)
		}
	}
}
