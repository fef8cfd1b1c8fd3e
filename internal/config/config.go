// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Proxy   ProxyConfig   `mapstructure:"proxy"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ArchiveConfig governs outbound requests to the source archive.
type ArchiveConfig struct {
	BaseURL             string `mapstructure:"base_url"`
	UserAgent           string `mapstructure:"user_agent"`
	MinSpacingMs        int    `mapstructure:"min_spacing_ms"`
	PageTimeoutSeconds  int    `mapstructure:"page_timeout_seconds"`
	EpubTimeoutSeconds  int    `mapstructure:"epub_timeout_seconds"`
	RetryCeilingSeconds int    `mapstructure:"retry_ceiling_seconds"`
}

// ProxyConfig points at the edge relay worker.
type ProxyConfig struct {
	WorkerURL      string `mapstructure:"worker_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// StorageConfig sets the directory for downloaded EPUB files.
type StorageConfig struct {
	EpubDir string `mapstructure:"epub_dir"`
}

// DBConfig controls access to the relational database. An empty DSN runs
// the service on the in-memory store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// MonitorConfig governs the scheduled health agents.
type MonitorConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalMinutes int  `mapstructure:"interval_minutes"`
	RetentionDays   int  `mapstructure:"retention_days"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AOVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("archive.base_url", "https://archiveofourown.org")
	v.SetDefault("archive.user_agent", "AOVault/1.0 (Personal Fanfiction Library)")
	v.SetDefault("archive.min_spacing_ms", 1500)
	v.SetDefault("archive.page_timeout_seconds", 8)
	v.SetDefault("archive.epub_timeout_seconds", 15)
	v.SetDefault("archive.retry_ceiling_seconds", 45)
	v.SetDefault("proxy.timeout_seconds", 30)
	v.SetDefault("storage.epub_dir", "storage")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("monitor.enabled", false)
	v.SetDefault("monitor.interval_minutes", 5)
	v.SetDefault("monitor.retention_days", 7)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Archive.BaseURL == "" {
		return fmt.Errorf("archive.base_url must be set")
	}
	if c.Archive.MinSpacingMs < 0 {
		return fmt.Errorf("archive.min_spacing_ms must be >= 0")
	}
	if c.Archive.PageTimeoutSeconds <= 0 || c.Archive.EpubTimeoutSeconds <= 0 {
		return fmt.Errorf("archive timeouts must be > 0")
	}
	if c.Archive.RetryCeilingSeconds <= 0 {
		return fmt.Errorf("archive.retry_ceiling_seconds must be > 0")
	}
	if c.Monitor.Enabled && c.Monitor.IntervalMinutes <= 0 {
		return fmt.Errorf("monitor.interval_minutes must be > 0 when monitor is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// MinSpacing returns the minimum interval between archive requests.
func (c Config) MinSpacing() time.Duration {
	return time.Duration(c.Archive.MinSpacingMs) * time.Millisecond
}

// PageTimeout returns the HTML fetch timeout.
func (c Config) PageTimeout() time.Duration {
	return time.Duration(c.Archive.PageTimeoutSeconds) * time.Second
}

// EpubTimeout returns the binary download timeout.
func (c Config) EpubTimeout() time.Duration {
	return time.Duration(c.Archive.EpubTimeoutSeconds) * time.Second
}

// RetryCeiling bounds how long a source-supplied retry hint may suspend a
// fetch call.
func (c Config) RetryCeiling() time.Duration {
	return time.Duration(c.Archive.RetryCeilingSeconds) * time.Second
}

// ProxyTimeout returns the edge relay timeout.
func (c Config) ProxyTimeout() time.Duration {
	return time.Duration(c.Proxy.TimeoutSeconds) * time.Second
}
