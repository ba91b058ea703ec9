package syncer

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Session ties the coordinator to its triggers. It replaces any global
// registration handle and is passed explicitly to whoever needs it.
type Session struct {
	Coordinator *Coordinator
	Sync        *BackgroundSync
	Monitor     *ConnectivityMonitor
}

// NewSession wires connectivity changes to the coordinator and the
// background-sync scheduler.
func NewSession(coordinator *Coordinator, bg *BackgroundSync, monitor *ConnectivityMonitor) *Session {
	s := &Session{Coordinator: coordinator, Sync: bg, Monitor: monitor}
	monitor.OnChange(s.connectivityChanged)
	return s
}

func (s *Session) connectivityChanged(ctx context.Context, online bool) {
	if !online {
		s.Coordinator.notifier.Notify(Status{Kind: KindOffline, Message: "Offline. The shell keeps working from cache."})
		return
	}
	if s.Sync.Supported() {
		s.Sync.Wake()
	}
	err := s.Coordinator.HandleOnline(ctx)
	if err != nil && !errors.Is(err, ErrDrainInProgress) {
		slog.Warn("drain after reconnect failed", "error", err)
	}
}

// Run polls connectivity and dispatches background syncs until ctx is done.
// Records left queued by an earlier run get a fresh sync registration.
func (s *Session) Run(ctx context.Context) error {
	if err := s.Resume(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Monitor.Run(gctx)
	})
	if s.Sync.Supported() {
		g.Go(func() error {
			return s.Sync.Run(gctx, s.Monitor, s.Coordinator.HandleSync)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Resume registers SyncTag when the durable queue still holds records, since
// sync registrations do not outlive the process.
func (s *Session) Resume(ctx context.Context) error {
	if !s.Sync.Supported() {
		return nil
	}
	pending, err := s.Coordinator.Pending(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	slog.Info("resuming sync for queued photos", "queued", len(pending))
	return s.Sync.Register(ctx, SyncTag)
}
