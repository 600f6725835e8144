// Package config загружает конфигурацию клиента и relay: значения по умолчанию,
// YAML-файл и переменные окружения GOPHSYNC_*.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/iudanet/gophsync/internal/crdt"
	"github.com/iudanet/gophsync/internal/fingerprint"
)

// EnvPrefix префикс переменных окружения (GOPHSYNC_SERVER_URL и т.д.)
const EnvPrefix = "GOPHSYNC"

// ErrInvalidConfig конфигурация не прошла проверку
var ErrInvalidConfig = errors.New("invalid config")

// LogConfig настройки логирования
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug | info | warn | error
	Format string `mapstructure:"format"` // text | json
}

// SyncConfig настройки синхронизации клиента
type SyncConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	MaxRoundBytes  int           `mapstructure:"max_round_bytes"`
	MaxPushBytes   int           `mapstructure:"max_push_bytes"`
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
}

// ClockConfig настройки гибридных часов
type ClockConfig struct {
	MaxDrift time.Duration `mapstructure:"max_drift"`
}

// TreeConfig настройки дерева отпечатков
type TreeConfig struct {
	LeafSize int   `mapstructure:"leaf_size"`
	MaxDepth uint8 `mapstructure:"max_depth"`
}

// HLC возвращает параметры часов
func (c ClockConfig) HLC() crdt.ClockConfig {
	return crdt.ClockConfig{MaxDrift: c.MaxDrift}
}

// Options возвращает параметры дерева отпечатков
func (t TreeConfig) Options() fingerprint.Options {
	return fingerprint.Options{LeafSize: t.LeafSize, MaxDepth: t.MaxDepth}
}

// ClientConfig конфигурация клиента (реплики)
type ClientConfig struct {
	ServerURL string      `mapstructure:"server_url"`
	DBPath    string      `mapstructure:"db_path"`
	Log       LogConfig   `mapstructure:"log"`
	Sync      SyncConfig  `mapstructure:"sync"`
	Clock     ClockConfig `mapstructure:"clock"`
	Tree      TreeConfig  `mapstructure:"tree"`
}

// RateLimitConfig ограничение частоты запросов на IP
type RateLimitConfig struct {
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
	Enabled bool    `mapstructure:"enabled"`
}

// ServerConfig конфигурация relay
type ServerConfig struct {
	Address         string          `mapstructure:"address"`
	DBPath          string          `mapstructure:"db_path"`
	Log             LogConfig       `mapstructure:"log"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
	Tree            TreeConfig      `mapstructure:"tree"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	QuotaBytes      int64           `mapstructure:"quota_bytes"`
	MaxBodyBytes    int64           `mapstructure:"max_body_bytes"`
	MaxPushBytes    int             `mapstructure:"max_push_bytes"`
	MetricsEnabled  bool            `mapstructure:"metrics_enabled"`
}

func newViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("tree.leaf_size", 16)
	v.SetDefault("tree.max_depth", 128)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}
	return v, nil
}

// LoadClient загружает конфигурацию клиента. Пустой путь означает только
// значения по умолчанию и переменные окружения.
func LoadClient(configPath string) (*ClientConfig, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}

	v.SetDefault("server_url", "http://localhost:8080")
	v.SetDefault("db_path", "gophsync-client.db")
	v.SetDefault("sync.interval", 30*time.Second)
	v.SetDefault("sync.request_timeout", 30*time.Second)
	v.SetDefault("sync.token_ttl", 2*time.Minute)
	v.SetDefault("sync.max_round_bytes", 16<<20)
	v.SetDefault("sync.max_push_bytes", 4<<20)
	v.SetDefault("sync.max_concurrent", 4)
	v.SetDefault("clock.max_drift", 5*time.Minute)

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет конфигурацию клиента
func (c *ClientConfig) Validate() error {
	switch {
	case c.ServerURL == "":
		return fmt.Errorf("%w: server_url is required", ErrInvalidConfig)
	case c.DBPath == "":
		return fmt.Errorf("%w: db_path is required", ErrInvalidConfig)
	case c.Sync.Interval <= 0:
		return fmt.Errorf("%w: sync.interval must be positive", ErrInvalidConfig)
	case c.Sync.MaxRoundBytes <= 0 || c.Sync.MaxPushBytes <= 0:
		return fmt.Errorf("%w: sync byte budgets must be positive", ErrInvalidConfig)
	case c.Clock.MaxDrift <= 0:
		return fmt.Errorf("%w: clock.max_drift must be positive", ErrInvalidConfig)
	}
	return validateTree(c.Tree)
}

// LoadServer загружает конфигурацию relay
func LoadServer(configPath string) (*ServerConfig, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}

	v.SetDefault("address", ":8080")
	v.SetDefault("db_path", "gophsync-relay.db")
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.rps", 20)
	v.SetDefault("rate_limit.burst", 40)
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetDefault("quota_bytes", int64(100<<20))
	v.SetDefault("max_body_bytes", int64(64<<20))
	v.SetDefault("max_push_bytes", 4<<20)
	v.SetDefault("metrics_enabled", true)

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет конфигурацию relay
func (c *ServerConfig) Validate() error {
	switch {
	case c.Address == "":
		return fmt.Errorf("%w: address is required", ErrInvalidConfig)
	case c.DBPath == "":
		return fmt.Errorf("%w: db_path is required", ErrInvalidConfig)
	case c.MaxBodyBytes <= 0 || c.MaxPushBytes <= 0:
		return fmt.Errorf("%w: body limits must be positive", ErrInvalidConfig)
	case c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0):
		return fmt.Errorf("%w: rate_limit needs positive rps and burst", ErrInvalidConfig)
	}
	return validateTree(c.Tree)
}

func validateTree(t TreeConfig) error {
	if t.LeafSize <= 0 {
		return fmt.Errorf("%w: tree.leaf_size must be positive", ErrInvalidConfig)
	}
	if t.MaxDepth == 0 || t.MaxDepth > 128 {
		return fmt.Errorf("%w: tree.max_depth must be within 1..128", ErrInvalidConfig)
	}
	return nil
}

// NewLogger создает логгер по настройкам
func NewLogger(cfg LogConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("%w: log.level %q", ErrInvalidConfig, cfg.Level)
	}

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("%w: log.format %q", ErrInvalidConfig, cfg.Format)
	}
}
