package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jo-hoe/photoqueue/internal/backend/storage"
)

const (
	defaultPort             = 3000
	defaultVAPIDSubject     = "mailto:pwa-demo@example.com"
	defaultBodyLimit        = "15M"
	defaultPushTTL          = 24 * time.Hour
	defaultPushConcurrency  = 8
	defaultUploadsDirectory = "uploads"
	defaultSubscriptionPath = "subscriptions.json"
)

type Database struct {
	Type             string `yaml:"type"`
	ConnectionString string `yaml:"connectionString"`
}

type VAPID struct {
	PublicKey  string `yaml:"publicKey" json:"publicKey"`
	PrivateKey string `yaml:"privateKey" json:"privateKey"`
	Subject    string `yaml:"subject" json:"subject"`
	// KeyFile is read when no keys are set in the config or environment.
	KeyFile string `yaml:"keyFile" json:"-"`
}

type Push struct {
	TTL         time.Duration `yaml:"ttl"`
	Concurrency int           `yaml:"concurrency"`
	Title       string        `yaml:"title"`
	URL         string        `yaml:"url"`
}

type ServiceConfig struct {
	Port      int            `yaml:"port"`
	StaticDir string         `yaml:"staticDir"`
	BodyLimit string         `yaml:"bodyLimit"`
	Database  Database       `yaml:"database"`
	Uploads   storage.Config `yaml:"uploads"`
	VAPID     VAPID          `yaml:"vapid"`
	Push      Push           `yaml:"push"`
	// VerifyImages decodes every upload to check it matches its declared type.
	VerifyImages bool `yaml:"verifyImages"`
}

// LoadConfig loads configuration from the specified YAML file
func LoadConfig(configPath string) (*ServiceConfig, error) {
	// Read the config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	// Parse YAML
	var config ServiceConfig
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	config.applyDefaults()
	if err := config.resolveVAPID(os.Getenv); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *ServiceConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.BodyLimit == "" {
		c.BodyLimit = defaultBodyLimit
	}
	if c.Database.Type == "" {
		c.Database.Type = "file"
	}
	if c.Database.Type == "file" && c.Database.ConnectionString == "" {
		c.Database.ConnectionString = defaultSubscriptionPath
	}
	if c.Uploads.Type == "" {
		c.Uploads.Type = storage.TypeFilesystem
	}
	if c.Uploads.Type == storage.TypeFilesystem && c.Uploads.Directory == "" {
		c.Uploads.Directory = defaultUploadsDirectory
	}
	if c.Push.TTL == 0 {
		c.Push.TTL = defaultPushTTL
	}
	if c.Push.Concurrency == 0 {
		c.Push.Concurrency = defaultPushConcurrency
	}
	if c.Push.Title == "" {
		c.Push.Title = "Upload synced"
	}
	if c.Push.URL == "" {
		c.Push.URL = "/"
	}
}

// resolveVAPID prefers keys from the environment, then the config file, then the key file.
func (c *ServiceConfig) resolveVAPID(getenv func(string) string) error {
	if pub, priv := getenv("VAPID_PUBLIC_KEY"), getenv("VAPID_PRIVATE_KEY"); pub != "" && priv != "" {
		c.VAPID.PublicKey = pub
		c.VAPID.PrivateKey = priv
		if subject := getenv("VAPID_SUBJECT"); subject != "" {
			c.VAPID.Subject = subject
		}
	}

	if (c.VAPID.PublicKey == "" || c.VAPID.PrivateKey == "") && c.VAPID.KeyFile != "" {
		fileKeys, err := readVAPIDFile(c.VAPID.KeyFile)
		if err != nil {
			return err
		}
		if fileKeys != nil {
			c.VAPID.PublicKey = fileKeys.PublicKey
			c.VAPID.PrivateKey = fileKeys.PrivateKey
			if c.VAPID.Subject == "" {
				c.VAPID.Subject = fileKeys.Subject
			}
		}
	}

	if c.VAPID.PublicKey == "" || c.VAPID.PrivateKey == "" {
		return errors.New("missing VAPID keys: set VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY, " +
			"configure vapid.publicKey/privateKey, or point vapid.keyFile at a JSON file with {publicKey, privateKey}")
	}
	if c.VAPID.Subject == "" {
		c.VAPID.Subject = defaultVAPIDSubject
	}
	return nil
}

func readVAPIDFile(path string) (*VAPID, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read VAPID key file %s: %w", path, err)
	}
	var keys VAPID
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("failed to parse VAPID key file %s: %w", path, err)
	}
	if keys.PublicKey == "" || keys.PrivateKey == "" {
		return nil, nil
	}
	return &keys, nil
}
