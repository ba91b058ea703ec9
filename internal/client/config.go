// Package client assembles the offline-first client engine from its
// configuration: the durable queue, the shell cache with its interceptor and
// the sync session.
package client

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultQueuePath         = "photoqueue-queue.db"
	defaultCachePath         = "photoqueue-cache.db"
	defaultCachePrefix       = "photoqueue-"
	defaultCacheVersion      = "v2"
	defaultCheckInterval     = 5 * time.Second
	defaultSyncRetryInterval = 30 * time.Second
	defaultRequestTimeout    = 30 * time.Second
)

var defaultManifest = []string{
	"/",
	"/index.html",
	"/styles.css",
	"/app.js",
	"/idb.js",
	"/offline.html",
	"/manifest.webmanifest",
	"/icons/icon-192.png",
	"/icons/icon-512.png",
}

type CacheConfig struct {
	Prefix   string   `yaml:"prefix"`
	Version  string   `yaml:"version"`
	Manifest []string `yaml:"manifest"`
}

type Config struct {
	ServerURL string      `yaml:"serverURL"`
	QueuePath string      `yaml:"queuePath"`
	CachePath string      `yaml:"cachePath"`
	Cache     CacheConfig `yaml:"cache"`
	// BackgroundSync defaults to true; false makes reconnects drain directly.
	BackgroundSync    *bool         `yaml:"backgroundSync"`
	CheckInterval     time.Duration `yaml:"checkInterval"`
	SyncRetryInterval time.Duration `yaml:"syncRetryInterval"`
	RequestTimeout    time.Duration `yaml:"requestTimeout"`
}

func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return &config, nil
}

func (c *Config) ApplyDefaults() {
	if c.QueuePath == "" {
		c.QueuePath = defaultQueuePath
	}
	if c.CachePath == "" {
		c.CachePath = defaultCachePath
	}
	if c.Cache.Prefix == "" {
		c.Cache.Prefix = defaultCachePrefix
	}
	if c.Cache.Version == "" {
		c.Cache.Version = defaultCacheVersion
	}
	if len(c.Cache.Manifest) == 0 {
		c.Cache.Manifest = append([]string{}, defaultManifest...)
	}
	if c.BackgroundSync == nil {
		enabled := true
		c.BackgroundSync = &enabled
	}
	if c.CheckInterval == 0 {
		c.CheckInterval = defaultCheckInterval
	}
	if c.SyncRetryInterval == 0 {
		c.SyncRetryInterval = defaultSyncRetryInterval
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
}

func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("serverURL is required")
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("serverURL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("serverURL must be http or https, got %q", c.ServerURL)
	}
	if u.Host == "" {
		return fmt.Errorf("serverURL has no host: %q", c.ServerURL)
	}
	return nil
}

func (c *Config) BackgroundSyncEnabled() bool {
	return c.BackgroundSync == nil || *c.BackgroundSync
}
