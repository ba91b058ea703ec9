package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

const HealthPath = "/health"

// Connectivity reports whether the server is currently reachable.
type Connectivity interface {
	Online() bool
}

// ConnectivityFunc adapts a function to Connectivity.
type ConnectivityFunc func() bool

func (f ConnectivityFunc) Online() bool {
	return f()
}

// ConnectivityMonitor polls the server health endpoint and calls its
// listeners on every offline/online transition.
type ConnectivityMonitor struct {
	client    *http.Client
	healthURL string
	interval  time.Duration

	online atomic.Bool

	mu        sync.Mutex
	listeners []func(ctx context.Context, online bool)
}

func NewConnectivityMonitor(client *http.Client, serverURL string, interval time.Duration) (*ConnectivityMonitor, error) {
	base, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", serverURL, err)
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &ConnectivityMonitor{
		client:    client,
		healthURL: base.JoinPath(HealthPath).String(),
		interval:  interval,
	}, nil
}

func (m *ConnectivityMonitor) Online() bool {
	return m.online.Load()
}

func (m *ConnectivityMonitor) OnChange(listener func(ctx context.Context, online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, listener)
}

// Check requests the health endpoint once and updates the state. Listeners run
// synchronously on a transition.
func (m *ConnectivityMonitor) Check(ctx context.Context) bool {
	online := m.reachable(ctx)
	if ctx.Err() != nil {
		// a cancelled request says nothing about the network
		return m.online.Load()
	}
	if m.online.Swap(online) == online {
		return online
	}

	slog.Info("connectivity changed", "online", online)
	m.mu.Lock()
	listeners := append([]func(context.Context, bool){}, m.listeners...)
	m.mu.Unlock()
	for _, listener := range listeners {
		listener(ctx, online)
	}
	return online
}

func (m *ConnectivityMonitor) reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.healthURL, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode <= 299
}

// Run checks connectivity until ctx is done.
func (m *ConnectivityMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
