package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jo-hoe/photoqueue/internal/client/cache"
	"github.com/jo-hoe/photoqueue/internal/client/interceptor"
	"github.com/jo-hoe/photoqueue/internal/client/queue"
	"github.com/jo-hoe/photoqueue/internal/client/syncer"
)

// Client owns every local resource of one installation.
type Client struct {
	Config  *Config
	Queue   *queue.SQLiteQueue
	Shell   *cache.Manager
	Session *syncer.Session
	// HTTP fetches through the shell cache. Use it for anything a page would load.
	HTTP *http.Client

	cacheStorage *cache.SQLiteStorage
}

// Open builds a client from config. network is the transport used for every
// real request; nil means http.DefaultTransport.
func Open(config *Config, network http.RoundTripper, notifier syncer.Notifier) (client *Client, err error) {
	if network == nil {
		network = http.DefaultTransport
	}
	netClient := &http.Client{Transport: network, Timeout: config.RequestTimeout}

	q, err := queue.NewSQLiteQueue(config.QueuePath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = q.Close()
		}
	}()

	storage, err := cache.NewSQLiteStorage(config.CachePath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = storage.Close()
		}
	}()

	fetcher, err := cache.NewHTTPFetcher(netClient, config.ServerURL)
	if err != nil {
		return nil, err
	}
	shell, err := cache.NewManager(storage, fetcher, cache.Config{
		Prefix:   config.Cache.Prefix,
		Version:  config.Cache.Version,
		Manifest: config.Cache.Manifest,
		Claim: func(_ context.Context, name string) error {
			slog.Info("shell cache now serves requests", "cache", name)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	cached, err := interceptor.New(config.ServerURL, shell, network)
	if err != nil {
		return nil, err
	}
	httpClient := &http.Client{Transport: cached, Timeout: config.RequestTimeout}

	uploader, err := syncer.NewHTTPUploader(httpClient, config.ServerURL)
	if err != nil {
		return nil, err
	}
	// the monitor must bypass the cache so a stale /health never reads as online
	monitor, err := syncer.NewConnectivityMonitor(netClient, config.ServerURL, config.CheckInterval)
	if err != nil {
		return nil, err
	}
	bg := syncer.NewBackgroundSync(config.BackgroundSyncEnabled(), config.SyncRetryInterval)
	coordinator := syncer.NewCoordinator(q, uploader, monitor, bg, notifier)

	return &Client{
		Config:       config,
		Queue:        q,
		Shell:        shell,
		Session:      syncer.NewSession(coordinator, bg, monitor),
		HTTP:         httpClient,
		cacheStorage: storage,
	}, nil
}

// InstallShell installs and activates the configured shell generation.
// An already active generation is left alone unless a newer one replaced it.
func (c *Client) InstallShell(ctx context.Context) error {
	if c.Shell.State() == cache.StateActive {
		superseded, err := c.Shell.Superseded(ctx)
		if err != nil {
			return err
		}
		if superseded {
			return fmt.Errorf("%w: %s was replaced by a newer version", cache.ErrNotServing, c.Shell.CurrentName())
		}
		return nil
	}
	if err := c.Shell.Install(ctx); err != nil {
		return err
	}
	_, err := c.Shell.Activate(ctx)
	return err
}

func (c *Client) Coordinator() *syncer.Coordinator {
	return c.Session.Coordinator
}

func (c *Client) Close() error {
	return errors.Join(c.Queue.Close(), c.cacheStorage.Close())
}
