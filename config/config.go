package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds harvester configuration.
type Config struct {
	ListingURL   string        `mapstructure:"listing_url"`
	Concurrency  int           `mapstructure:"concurrency"`
	Timeout      time.Duration `mapstructure:"timeout"`
	UserAgent    string        `mapstructure:"user_agent"`
	MaxBodyBytes int           `mapstructure:"max_body_bytes"`
	CacheSize    int           `mapstructure:"cache_size"`
	OutputFile   string        `mapstructure:"output_file"`
	OutputFormat string        `mapstructure:"output_format"` // csv, json, or dual
	MetricsAddr  string        `mapstructure:"metrics_addr"`
	Progress     bool          `mapstructure:"progress"`
	Verbose      bool          `mapstructure:"verbose"`
	Storage      StorageConfig `mapstructure:"storage"`
	Log          LogConfig     `mapstructure:"log"`
}

// StorageConfig selects where downloaded images are persisted.
type StorageConfig struct {
	Backend string `mapstructure:"backend"` // local, memory, s3, or gcs
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// LogConfig enables an optional rotating log file next to stdout.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig returns defaults for the Wikipedia animal names list.
func DefaultConfig() *Config {
	return &Config{
		ListingURL:   "https://en.wikipedia.org/wiki/List_of_animal_names",
		Concurrency:  10,
		Timeout:      10 * time.Second,
		UserAgent:    "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		MaxBodyBytes: 20 * 1024 * 1024,
		CacheSize:    256,
		OutputFile:   "output/collateral_adjectives_animals_groups.csv",
		OutputFormat: "csv",
		Storage: StorageConfig{
			Backend: "local",
			BaseDir: "output/images",
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.ListingURL == "" {
		return fmt.Errorf("listing URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.ListingURL)
	if err != nil {
		return fmt.Errorf("invalid listing URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("listing URL must include a host")
	}

	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxBodyBytes < 0 {
		return fmt.Errorf("max body bytes cannot be negative")
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("cache size cannot be negative")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	switch c.Storage.Backend {
	case "local":
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage base dir is required for the local backend")
		}
	case "memory":
	case "s3", "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage bucket is required for the %s backend", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("storage backend must be local, memory, s3, or gcs")
	}

	if c.Log.File != "" && c.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("log max size must be positive when a log file is set")
	}

	return nil
}
