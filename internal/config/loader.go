package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies RATECORE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known RATECORE_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
// Asset parameters are not overridable; they live in the TOML file only.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "RATECORE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "RATECORE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "RATECORE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "RATECORE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "RATECORE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "RATECORE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "RATECORE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "RATECORE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "RATECORE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "RATECORE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "RATECORE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "RATECORE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "RATECORE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "RATECORE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "RATECORE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "RATECORE_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.LockTTL, "RATECORE_REDIS_LOCK_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "RATECORE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "RATECORE_S3_REGION")
	setStr(&cfg.S3.Bucket, "RATECORE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "RATECORE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "RATECORE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "RATECORE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "RATECORE_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "RATECORE_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "RATECORE_ARCHIVE_CRON")
	setStr(&cfg.Archive.Prefix, "RATECORE_ARCHIVE_PREFIX")
	setStr(&cfg.Archive.SealPassphrase, "RATECORE_ARCHIVE_SEAL_PASSPHRASE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "RATECORE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "RATECORE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "RATECORE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "RATECORE_NOTIFY_EVENTS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "RATECORE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "RATECORE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "RATECORE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "RATECORE_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "RATECORE_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "RATECORE_SERVER_RATE_WINDOW")

	// ── Engine ──
	setUint64(&cfg.Engine.SecondsPerYear, "RATECORE_ENGINE_SECONDS_PER_YEAR")

	// ── Top-level ──
	setStr(&cfg.Mode, "RATECORE_MODE")
	setStr(&cfg.LogLevel, "RATECORE_LOG_LEVEL")
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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
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
