// Package cache keeps versioned generations of the application shell.
//
// Each generation is a named cache "<prefix><version>". Installing fetches the
// whole manifest into the generation; activating deletes every other
// generation that carries the prefix. Invalidation is therefore a
// rename-and-collect rather than per-resource staleness tracking.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

type State string

const (
	StateNew        State = "new"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateFailed     State = "failed"
	StateActive     State = "active"
	StateRedundant  State = "redundant"
)

var (
	ErrInvalidTransition = errors.New("invalid cache generation transition")
	// ErrNotServing is returned when a generation that is not installed or
	// active is asked to store a response.
	ErrNotServing = errors.New("cache generation is not serving")
)

const defaultFetchConcurrency = 4

// ClaimFunc is called once a generation becomes active so open clients switch to it.
type ClaimFunc func(ctx context.Context, name string) error

type Config struct {
	Prefix           string
	Version          string
	Manifest         []string
	FetchConcurrency int
	Claim            ClaimFunc
}

type Manager struct {
	storage Storage
	fetcher Fetcher
	config  Config

	mu    sync.Mutex
	state State
}

func NewManager(storage Storage, fetcher Fetcher, config Config) (*Manager, error) {
	if config.Prefix == "" || config.Version == "" {
		return nil, errors.New("cache prefix and version are required")
	}
	if config.FetchConcurrency <= 0 {
		config.FetchConcurrency = defaultFetchConcurrency
	}
	return &Manager{
		storage: storage,
		fetcher: fetcher,
		config:  config,
		state:   StateNew,
	}, nil
}

// CurrentName is the cache name of this manager's generation.
func (m *Manager) CurrentName() string {
	return m.config.Prefix + m.config.Version
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) transition(from []State, to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range from {
		if m.state == s {
			m.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, to)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Install fetches every manifest resource and stores them in one write. If any
// fetch fails nothing is stored and the generation is marked failed; Install
// may then be retried.
func (m *Manager) Install(ctx context.Context) error {
	if err := m.transition([]State{StateNew, StateFailed}, StateInstalling); err != nil {
		return err
	}

	entries := make([]Entry, len(m.config.Manifest))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.config.FetchConcurrency)
	for i, path := range m.config.Manifest {
		i, path := i, path
		g.Go(func() error {
			entry, err := m.fetcher.Fetch(gctx, path)
			if err != nil {
				return err
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		m.setState(StateFailed)
		slog.Warn("shell install failed", "cache", m.CurrentName(), "error", err)
		return fmt.Errorf("install %s: %w", m.CurrentName(), err)
	}

	byKey := make(map[string]Entry, len(entries))
	for i, path := range m.config.Manifest {
		byKey[path] = entries[i]
	}
	if err := m.storage.PutAll(ctx, m.CurrentName(), byKey); err != nil {
		m.setState(StateFailed)
		return fmt.Errorf("install %s: %w", m.CurrentName(), err)
	}

	m.setState(StateInstalled)
	slog.Info("shell installed", "cache", m.CurrentName(), "resources", len(byKey))
	return nil
}

// Activate deletes every other generation of this application and claims
// clients. It returns the names of the deleted caches.
func (m *Manager) Activate(ctx context.Context) ([]string, error) {
	if err := m.transition([]State{StateInstalled, StateActive}, StateInstalled); err != nil {
		return nil, err
	}

	deleted, err := m.collectStale(ctx)
	if err != nil {
		return deleted, err
	}

	if m.config.Claim != nil {
		if err := m.config.Claim(ctx, m.CurrentName()); err != nil {
			return deleted, fmt.Errorf("claim clients: %w", err)
		}
	}

	m.setState(StateActive)
	slog.Info("shell activated", "cache", m.CurrentName(), "deleted", deleted)
	return deleted, nil
}

func (m *Manager) collectStale(ctx context.Context) ([]string, error) {
	names, err := m.storage.Names(ctx)
	if err != nil {
		return nil, err
	}
	current := m.CurrentName()
	deleted := []string{}
	for _, name := range names {
		if name == current || !strings.HasPrefix(name, m.config.Prefix) {
			continue
		}
		if _, err := m.storage.Delete(ctx, name); err != nil {
			return deleted, err
		}
		deleted = append(deleted, name)
	}
	return deleted, nil
}

// Superseded reports whether a newer generation has deleted this one. Once
// it has, the manager is redundant and must not serve or store anything.
func (m *Manager) Superseded(ctx context.Context) (bool, error) {
	names, err := m.storage.Names(ctx)
	if err != nil {
		return false, err
	}
	if slices.Contains(names, m.CurrentName()) {
		return false, nil
	}
	return m.markRedundant(), nil
}

func (m *Manager) markRedundant() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateActive || m.state == StateInstalled {
		m.state = StateRedundant
		slog.Info("shell generation superseded", "cache", m.CurrentName())
	}
	return m.state == StateRedundant
}

func (m *Manager) serving() bool {
	state := m.State()
	return state == StateInstalled || state == StateActive
}

// Match looks key up in the current generation only. A generation that is
// not serving never matches.
func (m *Manager) Match(ctx context.Context, key string) (*Entry, error) {
	if !m.serving() {
		return nil, nil
	}
	return m.storage.Match(ctx, m.CurrentName(), key)
}

// Put stores a copy of a response in the current generation. It fails with
// ErrNotServing before install and once a newer generation deleted this one.
func (m *Manager) Put(ctx context.Context, key string, entry Entry) error {
	if !m.serving() {
		return fmt.Errorf("%w: %s is %s", ErrNotServing, m.CurrentName(), m.State())
	}
	err := m.storage.Put(ctx, m.CurrentName(), key, entry)
	if errors.Is(err, ErrCacheNotFound) {
		m.markRedundant()
		return fmt.Errorf("%w: %s was superseded", ErrNotServing, m.CurrentName())
	}
	return err
}
