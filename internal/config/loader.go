package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies QUBET_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known QUBET_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "QUBET_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "QUBET_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "QUBET_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "QUBET_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "QUBET_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "QUBET_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "QUBET_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "QUBET_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "QUBET_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "QUBET_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "QUBET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "QUBET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "QUBET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "QUBET_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "QUBET_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "QUBET_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "QUBET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "QUBET_S3_REGION")
	setStr(&cfg.S3.Bucket, "QUBET_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "QUBET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "QUBET_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "QUBET_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "QUBET_S3_FORCE_PATH_STYLE")

	// ── Qubic RPC ──
	setStr(&cfg.Qubic.BaseURL, "QUBET_QUBIC_BASE_URL")
	setDuration(&cfg.Qubic.RequestTimeout, "QUBET_QUBIC_REQUEST_TIMEOUT")
	setInt(&cfg.Qubic.BreakerFailures, "QUBET_QUBIC_BREAKER_FAILURES")
	setDuration(&cfg.Qubic.BreakerCooldown, "QUBET_QUBIC_BREAKER_COOLDOWN")

	// ── Game ──
	setStringSlice(&cfg.Game.Pairs, "QUBET_GAME_PAIRS")
	setInt64(&cfg.Game.FeeBps, "QUBET_GAME_FEE_BPS")
	setDuration(&cfg.Game.ResolutionDelay, "QUBET_GAME_RESOLUTION_DELAY")
	setInt64(&cfg.Game.MinBetQu, "QUBET_GAME_MIN_BET_QU")
	setInt64(&cfg.Game.MaxBetQu, "QUBET_GAME_MAX_BET_QU")
	setDuration(&cfg.Game.Lookahead, "QUBET_GAME_LOOKAHEAD")

	// ── Scheduler ──
	setDuration(&cfg.Scheduler.TickInterval, "QUBET_SCHEDULER_TICK_INTERVAL")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "QUBET_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "QUBET_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "QUBET_ARCHIVE_INTERVAL")

	// ── Server ──
	setInt(&cfg.Server.Port, "QUBET_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "QUBET_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.OperatorSecret, "QUBET_SERVER_OPERATOR_SECRET")
	setInt(&cfg.Server.RateLimit, "QUBET_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "QUBET_SERVER_RATE_WINDOW")
	setBool(&cfg.Server.RateLimitEnabled, "QUBET_SERVER_RATE_LIMIT_ENABLED")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "QUBET_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
