package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultAPIHost is the API host baked in at build time, e.g.
//
//	go build -ldflags "-X github.com/nhle/insync/internal/model.DefaultAPIHost=api.insync.dev"
var DefaultAPIHost = "localhost:8000"

// APIHostEnv overrides api.host when set.
const APIHostEnv = "INSYNC_API_HOST"

// Cache backend identifiers.
const (
	CacheBackendMemory = "memory"
	CacheBackendSQLite = "sqlite"
	CacheBackendRedis  = "redis"
)

// APIConfig locates the InSync REST and WebSocket endpoints.
type APIConfig struct {
	// Host is host[:port] without a scheme.
	Host string `mapstructure:"host" yaml:"host"`

	// Secure selects https/wss over http/ws.
	Secure bool `mapstructure:"secure" yaml:"secure"`

	// Prefix is prepended to every REST path (e.g. "/api").
	Prefix string `mapstructure:"prefix" yaml:"prefix"`

	// TimeoutSec bounds a single REST request.
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// BaseURL returns the REST base URL including the prefix.
func (c APIConfig) BaseURL() string {
	scheme := "http"
	if c.Secure {
		scheme = "https"
	}
	base := scheme + "://" + c.Host
	if p := strings.Trim(c.Prefix, "/"); p != "" {
		base += "/" + p
	}
	return base
}

// SocketBaseURL returns the WebSocket origin (scheme and host).
func (c APIConfig) SocketBaseURL() string {
	scheme := "ws"
	if c.Secure {
		scheme = "wss"
	}
	return scheme + "://" + c.Host
}

// Timeout returns TimeoutSec as a duration.
func (c APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// RealtimeConfig tunes the notification channel.
type RealtimeConfig struct {
	ReconnectIntervalMs int `mapstructure:"reconnect_interval_ms" yaml:"reconnect_interval_ms"`
	WriteTimeoutMs      int `mapstructure:"write_timeout_ms" yaml:"write_timeout_ms"`
}

// ReconnectInterval returns the fixed retry backoff.
func (c RealtimeConfig) ReconnectInterval() time.Duration {
	return time.Duration(c.ReconnectIntervalMs) * time.Millisecond
}

// WriteTimeout returns the outbound write deadline.
func (c RealtimeConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMs) * time.Millisecond
}

// CacheConfig selects and configures the client-side query cache.
type CacheConfig struct {
	Backend       string `mapstructure:"backend" yaml:"backend"`
	SQLitePath    string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	RedisAddr     string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" yaml:"redis_db"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// MetricsConfig controls the optional Prometheus listener.
type MetricsConfig struct {
	// Addr is the listen address for /metrics; empty disables it.
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// DisplayConfig holds UI/rendering preferences.
type DisplayConfig struct {
	Theme string `mapstructure:"theme" yaml:"theme"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	API      APIConfig      `mapstructure:"api" yaml:"api"`
	Realtime RealtimeConfig `mapstructure:"realtime" yaml:"realtime"`
	Cache    CacheConfig    `mapstructure:"cache" yaml:"cache"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Display  DisplayConfig  `mapstructure:"display" yaml:"display"`
}

// ConfigDir returns ~/.config/insync, falling back to the working directory.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "insync")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/insync/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		API: APIConfig{
			Host:       DefaultAPIHost,
			Prefix:     "/api",
			TimeoutSec: 30,
		},
		Realtime: RealtimeConfig{
			ReconnectIntervalMs: 3000,
			WriteTimeoutMs:      5000,
		},
		Cache: CacheConfig{
			Backend:    CacheBackendMemory,
			SQLitePath: ":memory:",
			RedisAddr:  "localhost:6379",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
			File:   filepath.Join(ConfigDir(), "insync.log"),
		},
		Display: DisplayConfig{
			Theme: "default",
		},
	}
}

// setDefaults mirrors defaultAppConfig so missing keys resolve to sensible
// values after unmarshaling.
func setDefaults(v *viper.Viper) {
	d := defaultAppConfig()
	v.SetDefault("api.host", d.API.Host)
	v.SetDefault("api.secure", d.API.Secure)
	v.SetDefault("api.prefix", d.API.Prefix)
	v.SetDefault("api.timeout_sec", d.API.TimeoutSec)
	v.SetDefault("realtime.reconnect_interval_ms", d.Realtime.ReconnectIntervalMs)
	v.SetDefault("realtime.write_timeout_ms", d.Realtime.WriteTimeoutMs)
	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.sqlite_path", d.Cache.SQLitePath)
	v.SetDefault("cache.redis_addr", d.Cache.RedisAddr)
	v.SetDefault("cache.redis_db", d.Cache.RedisDB)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("display.theme", d.Display.Theme)
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, the defaults are used. An optional .env file
// in the working directory is loaded first, and INSYNC_API_HOST overrides
// the configured host.
func LoadConfig(path string) (*AppConfig, error) {
	// A missing .env is the common case.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	cfg := defaultAppConfig()
	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if _, ok := err.(*os.PathError); !ok && !notFound {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if host := strings.TrimSpace(os.Getenv(APIHostEnv)); host != "" {
		cfg.API.Host = host
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks values that would otherwise fail later at runtime.
func (c *AppConfig) Validate() error {
	if c.API.Host == "" {
		return fmt.Errorf("api.host is required")
	}
	if strings.Contains(c.API.Host, "://") {
		return fmt.Errorf("api.host must not include a scheme: %q", c.API.Host)
	}
	if c.Realtime.ReconnectIntervalMs <= 0 {
		return fmt.Errorf("realtime.reconnect_interval_ms must be positive")
	}
	switch c.Cache.Backend {
	case CacheBackendMemory, CacheBackendSQLite, CacheBackendRedis:
	default:
		return fmt.Errorf("unknown cache.backend %q", c.Cache.Backend)
	}
	return nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("api", cfg.API)
	v.Set("realtime", cfg.Realtime)
	v.Set("cache", cfg.Cache)
	v.Set("log", cfg.Log)
	v.Set("metrics", cfg.Metrics)
	v.Set("display", cfg.Display)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
