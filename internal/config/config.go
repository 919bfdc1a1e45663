package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	CatalogEnvDebug   = "debug"
	CatalogEnvRelease = "release"
)

// Config holds all settings, read from the environment after an optional
// .env file. Empty paths are derived from DataDir.
type Config struct {
	DataDir        string `envconfig:"DATA_DIR"`
	DBPath         string `envconfig:"DB_PATH"`
	PhotoPath      string `envconfig:"PHOTO_PATH"`
	ImageCachePath string `envconfig:"IMAGE_CACHE_PATH"`
	BackupDir      string `envconfig:"BACKUP_DIR"`

	ImageCacheMaxBytes int64 `envconfig:"IMAGE_CACHE_MAX_BYTES" default:"268435456"`

	CatalogEnv             string        `envconfig:"CATALOG_ENV" default:"release"`
	CatalogDebugURL        string        `envconfig:"CATALOG_DEBUG_URL" default:"http://localhost:8080/api/v1"`
	CatalogReleaseURL      string        `envconfig:"CATALOG_RELEASE_URL" default:"https://api.critterkeep.app/api/v1"`
	CatalogRequestTimeout  time.Duration `envconfig:"CATALOG_REQUEST_TIMEOUT" default:"30s"`
	CatalogResourceTimeout time.Duration `envconfig:"CATALOG_RESOURCE_TIMEOUT" default:"60s"`
	CatalogMaxRetries      int           `envconfig:"CATALOG_MAX_RETRIES" default:"3"`
	CatalogBackoffBase     time.Duration `envconfig:"CATALOG_BACKOFF_BASE" default:"1s"`
	CatalogRPS             float64       `envconfig:"CATALOG_RPS" default:"0"`

	SyncIntervalDays int    `envconfig:"SYNC_INTERVAL_DAYS" default:"7"`
	AppVersion       string `envconfig:"APP_VERSION" default:"1.0.0"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	LogFile   string `envconfig:"LOG_FILE"`
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first if present; variables already set win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.derivePaths(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) derivePaths() error {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to resolve home directory: %w", err)
		}
		c.DataDir = filepath.Join(home, ".critterkeep")
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "critterkeep.db")
	}
	if c.PhotoPath == "" {
		c.PhotoPath = filepath.Join(c.DataDir, "photos")
	}
	if c.ImageCachePath == "" {
		c.ImageCachePath = filepath.Join(c.DataDir, "image-cache")
	}
	if c.BackupDir == "" {
		c.BackupDir = filepath.Join(c.DataDir, "backups")
	}
	return nil
}

func (c *Config) validate() error {
	switch c.CatalogEnv {
	case CatalogEnvDebug, CatalogEnvRelease:
	default:
		return fmt.Errorf("invalid CATALOG_ENV %q: want %q or %q", c.CatalogEnv, CatalogEnvDebug, CatalogEnvRelease)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("invalid LOG_FORMAT %q: want json or text", c.LogFormat)
	}
	if c.SyncIntervalDays < 0 {
		return fmt.Errorf("invalid SYNC_INTERVAL_DAYS %d", c.SyncIntervalDays)
	}
	if c.ImageCacheMaxBytes < 0 {
		return fmt.Errorf("invalid IMAGE_CACHE_MAX_BYTES %d", c.ImageCacheMaxBytes)
	}
	return nil
}

// CatalogBaseURL returns the catalog endpoint for the selected environment.
func (c *Config) CatalogBaseURL() string {
	if c.CatalogEnv == CatalogEnvDebug {
		return c.CatalogDebugURL
	}
	return c.CatalogReleaseURL
}

func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalDays) * 24 * time.Hour
}
