package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ratecore/internal/domain"
)

const sampleTOML = `
mode = "full"
log_level = "debug"

[redis]
addr = "redis:6379"
lock_ttl = "3s"

[archive]
enabled = true
cron = "*/15 * * * *"

[[engine.assets]]
address = "0x6B175474E89094C44Da98b954EedeAC495271d0F"
symbol = "DAI"
decimals = 18
decay_factor = "10000000000000000"
variance_decay_factor = "10000000000000000"
collateralization_factor = "10000000000000000000"
opening_fee_pct = "300000000000000"
liquidation_deposit = "20000000000000000000"
publication_fee = "10000000000000000000"
tax_pct = "100000000000000000"
redeem_fee_pct = "5000000000000000"

[[engine.assets]]
address = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
symbol = "USDC"
decimals = 6
decay_factor = "10000"
variance_decay_factor = "10000"
collateralization_factor = "10000000"
opening_fee_pct = "300"
liquidation_deposit = "20000000"
publication_fee = "10000000"
tax_pct = "100000"
redeem_fee_pct = "5000"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 3*time.Second, cfg.Redis.LockTTL.Duration)
	assert.Equal(t, 20, cfg.Redis.PoolSize, "default kept")
	assert.Equal(t, uint64(31_536_000), cfg.Engine.SecondsPerYear)
	require.Len(t, cfg.Engine.Assets, 2)
	require.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("RATECORE_MODE", "archive")
	t.Setenv("RATECORE_SERVER_PORT", "9090")
	t.Setenv("RATECORE_REDIS_LOCK_TTL", "1m")
	t.Setenv("RATECORE_SERVER_CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("RATECORE_ENGINE_SECONDS_PER_YEAR", "31557600")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, "archive", cfg.Mode)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, time.Minute, cfg.Redis.LockTTL.Duration)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, uint64(31_557_600), cfg.Engine.SecondsPerYear)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestAssetParams(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	params, err := cfg.AssetParams()
	require.NoError(t, err)
	require.Len(t, params, 2)

	usdc := params[common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")]
	assert.Equal(t, "USDC", usdc.Symbol)
	assert.Equal(t, "1000000", usdc.Scale.Dec())
	assert.Equal(t, "300", usdc.OpeningFeePct.Dec())
	assert.Equal(t, uint64(31_536_000), usdc.SecondsPerYear)

	dai := params[common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")]
	assert.Equal(t, "1000000000000000000", dai.Scale.Dec())
	assert.Equal(t, "10000000000000000000", dai.CollateralizationFactor.Dec())
}

func TestAssetParamsRejectsBadValues(t *testing.T) {
	base := AssetConfig{
		Address:                 "0x6B175474E89094C44Da98b954EedeAC495271d0F",
		Symbol:                  "DAI",
		Decimals:                18,
		DecayFactor:             "0",
		VarianceDecayFactor:     "0",
		CollateralizationFactor: "1000000000000000000",
		OpeningFeePct:           "0",
		LiquidationDeposit:      "0",
		PublicationFee:          "0",
		TaxPct:                  "0",
		RedeemFeePct:            "0",
	}
	_, err := base.Params(31_536_000)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*AssetConfig)
	}{
		{"decimals", func(a *AssetConfig) { a.Decimals = 8 }},
		{"negative", func(a *AssetConfig) { a.TaxPct = "-1" }},
		{"not a number", func(a *AssetConfig) { a.OpeningFeePct = "0.03" }},
		{"pct above scale", func(a *AssetConfig) { a.DecayFactor = "1000000000000000001" }},
		{"zero collateralization", func(a *AssetConfig) { a.CollateralizationFactor = "0" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := base
			tt.mutate(&a)
			_, err := a.Params(31_536_000)
			assert.ErrorIs(t, err, domain.ErrInvalidParameter)
		})
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Redis.Addr = ""
	cfg.Archive.Enabled = true
	cfg.Archive.Cron = "every day"
	cfg.Engine.Assets = []AssetConfig{{Address: "not-an-address"}}
	cfg.Notify.TelegramToken = "token-without-chat"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "trade"`)
	assert.Contains(t, msg, "redis: addr")
	assert.Contains(t, msg, "archive: invalid cron")
	assert.Contains(t, msg, "not a hex address")
	assert.Contains(t, msg, "notify: telegram_token")
}

func TestValidateDuplicateAsset(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	cfg.Engine.Assets = append(cfg.Engine.Assets, cfg.Engine.Assets[0])
	require.ErrorContains(t, cfg.Validate(), "duplicate address")
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pw"
	cfg.S3.SecretKey = "secret"
	cfg.Server.APIKey = "key"
	cfg.Archive.SealPassphrase = "seal"
	cfg.Notify.DiscordWebhookURL = "https://discord.example/hook"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "***", out.Archive.SealPassphrase)
	assert.Equal(t, "***", out.Notify.DiscordWebhookURL)
	assert.Empty(t, out.Redis.Password, "empty fields stay empty")
	assert.Equal(t, "pw", cfg.Postgres.Password, "original untouched")

	out.Server.CORSOrigins[0] = "changed"
	assert.Equal(t, "http://localhost:3000", cfg.Server.CORSOrigins[0])
}
