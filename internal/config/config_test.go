package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "USD", cfg.SettlementCurrency)
	assert.True(t, decimal.RequireFromString("0.10").Equal(cfg.PlatformFeeRate))
	assert.Equal(t, 72*time.Hour, cfg.AutoAcceptAfter)
	assert.Equal(t, "sandbox", cfg.GatewayDriver)
	assert.NotEmpty(t, cfg.JWTSecret)
	assert.NotEmpty(t, cfg.WebhookSecret)
}

func TestLoad_CollectsParseErrors(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("AUTO_ACCEPT_AFTER", "три дня")
	t.Setenv("WITHDRAWAL_RATE_LIMIT", "x")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTO_ACCEPT_AFTER")
	assert.Contains(t, err.Error(), "WITHDRAWAL_RATE_LIMIT")
}

func TestLoad_ProductionRequiresSecrets(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "short")
	t.Setenv("WEBHOOK_SECRET", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://example.com")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "WEBHOOK_SECRET")
}

func TestLoad_FeeRateBounds(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("PLATFORM_FEE_RATE", "1.5")

	_, err := Load()
	assert.ErrorContains(t, err, "PLATFORM_FEE_RATE")
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(" "))
	assert.Equal(t, []string{"a:9092", "b:9092"}, splitList("a:9092, ,b:9092"))
}
