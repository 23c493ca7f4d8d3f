// Package config defines the top-level configuration for ratecore and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/ratecore/internal/fixedpoint"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by RATECORE_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Server   ServerConfig   `toml:"server"`
	Engine   EngineConfig   `toml:"engine"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
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
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	LockTTL    duration `toml:"lock_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls periodic snapshots of the accounting state.
type ArchiveConfig struct {
	Enabled bool   `toml:"enabled"`
	Cron    string `toml:"cron"`
	Prefix  string `toml:"prefix"`

	// SealPassphrase, when set, signs every snapshot and makes restore
	// reject snapshots whose signature does not verify.
	SealPassphrase string `toml:"seal_passphrase"`
}

// NotifyConfig holds the alert channels. A channel is enabled when its
// credentials are set.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`

	// RateLimit caps POST requests per client IP per RateWindow; 0 disables.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// EngineConfig holds the accounting parameters of every listed asset.
type EngineConfig struct {
	SecondsPerYear uint64        `toml:"seconds_per_year"`
	Assets         []AssetConfig `toml:"assets"`
}

// AssetConfig is one listed asset. Percentages and amounts are decimal
// integer strings in the asset's scale (10^decimals), so 0.03% at 18
// decimals is "300000000000000".
type AssetConfig struct {
	Address                 string `toml:"address"`
	Symbol                  string `toml:"symbol"`
	Decimals                uint8  `toml:"decimals"`
	DecayFactor             string `toml:"decay_factor"`
	VarianceDecayFactor     string `toml:"variance_decay_factor"`
	CollateralizationFactor string `toml:"collateralization_factor"`
	OpeningFeePct           string `toml:"opening_fee_pct"`
	LiquidationDeposit      string `toml:"liquidation_deposit"`
	PublicationFee          string `toml:"publication_fee"`
	TaxPct                  string `toml:"tax_pct"`
	RedeemFeePct            string `toml:"redeem_fee_pct"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "ratecore",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			LockTTL:    duration{10 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "ratecore-snapshots",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled: false,
			Cron:    "0 0 * * *",
			Prefix:  "snapshots",
		},
		Notify: NotifyConfig{
			Events: []string{"archive.failed"},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   60,
			RateWindow:  duration{time.Minute},
		},
		Engine: EngineConfig{
			SecondsPerYear: fixedpoint.SecondsPerYear,
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}
	if c.Redis.LockTTL.Duration <= 0 {
		errs = append(errs, "redis: lock_ttl must be > 0")
	}

	// Archive and S3
	if c.Archive.Enabled || strings.EqualFold(c.Mode, "archive") {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archiving")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when archiving")
		}
		if _, err := cron.ParseStandard(c.Archive.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("archive: invalid cron %q: %v", c.Archive.Cron, err))
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Engine
	if c.Engine.SecondsPerYear == 0 {
		errs = append(errs, "engine: seconds_per_year must be > 0")
	}
	if len(c.Engine.Assets) == 0 {
		errs = append(errs, "engine: at least one [[engine.assets]] entry is required")
	}
	seen := make(map[common.Address]bool, len(c.Engine.Assets))
	for i, a := range c.Engine.Assets {
		if !common.IsHexAddress(a.Address) {
			errs = append(errs, fmt.Sprintf("engine.assets[%d]: address %q is not a hex address", i, a.Address))
			continue
		}
		addr := common.HexToAddress(a.Address)
		if seen[addr] {
			errs = append(errs, fmt.Sprintf("engine.assets[%d]: duplicate address %s", i, addr.Hex()))
		}
		seen[addr] = true
		if _, err := a.Params(c.Engine.SecondsPerYear); err != nil {
			errs = append(errs, fmt.Sprintf("engine.assets[%d] (%s): %v", i, a.Symbol, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
