// Package config defines the top-level configuration for the settlement
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by QUBET_* environment variables.
type Config struct {
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Qubic     QubicConfig     `toml:"qubic"`
	Game      GameConfig      `toml:"game"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	LogLevel  string          `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for cold-storage
// archival of settled rounds and resolved markets.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// QubicConfig holds chain RPC endpoint parameters and circuit breaker
// thresholds.
type QubicConfig struct {
	BaseURL string `toml:"base_url"`
	// RequestTimeout bounds every RPC call; calls exceeding it count as
	// breaker failures.
	RequestTimeout  duration `toml:"request_timeout"`
	BreakerFailures int      `toml:"breaker_failures"`
	BreakerCooldown duration `toml:"breaker_cooldown"`
}

// GameConfig holds the betting product parameters.
type GameConfig struct {
	// Pairs are the price pairs rounds run on, e.g. "QU/USDT".
	Pairs []string `toml:"pairs"`
	// FeeBps is the platform fee in basis points (300 = 3%).
	FeeBps int64 `toml:"fee_bps"`
	// ResolutionDelay is how long a locked round waits before its resolve
	// price is fetched.
	ResolutionDelay duration `toml:"resolution_delay"`
	// MinBetQu and MaxBetQu bound a single wager.
	MinBetQu int64 `toml:"min_bet_qu"`
	MaxBetQu int64 `toml:"max_bet_qu"`
	// Lookahead is the advisory window for closing_soon/resolving_soon
	// market flags.
	Lookahead duration `toml:"lookahead"`
}

// SchedulerConfig holds the tick driver parameters.
type SchedulerConfig struct {
	TickInterval duration `toml:"tick_interval"`
}

// ArchiveConfig holds cold-storage archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// OperatorSecret protects the cron and admin surfaces. It is distinct
	// from per-account API tokens.
	OperatorSecret string `toml:"operator_secret"`
	// RateLimit / RateWindow bound requests per caller per route.
	RateLimit        int      `toml:"rate_limit"`
	RateWindow       duration `toml:"rate_window"`
	RateLimitEnabled bool     `toml:"rate_limit_enabled"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5s", "60m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5s" or "30m".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration, suitable for local
// development against docker-compose Postgres and Redis.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "qubet",
			User:          "qubet",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Qubic: QubicConfig{
			BaseURL:         "https://rpc.qubic.org",
			RequestTimeout:  duration{10 * time.Second},
			BreakerFailures: 5,
			BreakerCooldown: duration{30 * time.Second},
		},
		Game: GameConfig{
			Pairs:           []string{"QU/USDT"},
			FeeBps:          300,
			ResolutionDelay: duration{5 * time.Second},
			MinBetQu:        10,
			MaxBetQu:        1_000_000_000,
			Lookahead:       duration{60 * time.Minute},
		},
		Scheduler: SchedulerConfig{
			TickInterval: duration{5 * time.Second},
		},
		Archive: ArchiveConfig{
			RetentionDays: 30,
			Interval:      duration{6 * time.Hour},
		},
		Server: ServerConfig{
			Port:             8080,
			RateLimit:        30,
			RateWindow:       duration{time.Minute},
			RateLimitEnabled: true,
		},
		LogLevel: "info",
	}
}

// Validate checks the configuration for values that would prevent the engine
// from starting safely.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.OperatorSecret == "" {
		problems = append(problems, "server.operator_secret is required")
	}
	if len(c.Game.Pairs) == 0 {
		problems = append(problems, "game.pairs must list at least one pair")
	}
	if c.Game.FeeBps < 0 || c.Game.FeeBps >= 10000 {
		problems = append(problems, fmt.Sprintf("game.fee_bps %d out of range [0,10000)", c.Game.FeeBps))
	}
	if c.Game.MinBetQu <= 0 {
		problems = append(problems, "game.min_bet_qu must be positive")
	}
	if c.Game.MaxBetQu < c.Game.MinBetQu {
		problems = append(problems, "game.max_bet_qu below game.min_bet_qu")
	}
	if c.Qubic.BaseURL == "" {
		problems = append(problems, "qubic.base_url is required")
	}
	if c.Qubic.BreakerFailures <= 0 {
		problems = append(problems, "qubic.breaker_failures must be positive")
	}
	if c.Scheduler.TickInterval.Duration <= 0 {
		problems = append(problems, "scheduler.tick_interval must be positive")
	}
	if c.Archive.Enabled && c.S3.Bucket == "" {
		problems = append(problems, "s3.bucket is required when archive.enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}
