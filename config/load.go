package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// HARVESTER_CONCURRENCY or HARVESTER_STORAGE_BACKEND.
const EnvPrefix = "HARVESTER"

// NewViper returns a viper instance with defaults and env bindings applied.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load reads an optional config file into v and returns the validated result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = NewViper()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.OutputFormat = strings.ToLower(cfg.OutputFormat)
	cfg.Storage.Backend = strings.ToLower(cfg.Storage.Backend)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("listing_url", d.ListingURL)
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("user_agent", d.UserAgent)
	v.SetDefault("max_body_bytes", d.MaxBodyBytes)
	v.SetDefault("cache_size", d.CacheSize)
	v.SetDefault("output_file", d.OutputFile)
	v.SetDefault("output_format", d.OutputFormat)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("progress", d.Progress)
	v.SetDefault("verbose", d.Verbose)
	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.base_dir", d.Storage.BaseDir)
	v.SetDefault("storage.bucket", d.Storage.Bucket)
	v.SetDefault("storage.prefix", d.Storage.Prefix)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)
}
