package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "turbo"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown mode "turbo"`)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.OKX.InstID = ""
	cfg.Simulator.ImpactModel = "cubic"
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inst_id must not be empty")
	assert.Contains(t, err.Error(), `unknown impact_model "cubic"`)
	assert.Contains(t, err.Error(), "redis: addr must not be empty")
}

func TestValidateDefaultFeeTierMustExist(t *testing.T) {
	cfg := Defaults()
	cfg.Simulator.DefaultFeeTier = "VIP9"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `default_fee_tier "VIP9"`)
}

func TestValidateRecordingRequiresS3(t *testing.T) {
	cfg := Defaults()
	cfg.OKX.RecordFrames = true
	cfg.S3.Enabled = false

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record_frames requires s3.enabled")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OKXSIM_OKX_INST_ID", "ETH-USDT")
	t.Setenv("OKXSIM_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("OKXSIM_SERVER_PORT", "9001")
	t.Setenv("OKXSIM_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("OKXSIM_OKX_RECORD_FLUSH_INTERVAL", "90s")
	t.Setenv("OKXSIM_MODE", "monitor")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "ETH-USDT", cfg.OKX.InstID)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 90*time.Second, cfg.OKX.RecordFlushInterval.Duration)
	assert.Equal(t, "monitor", cfg.Mode)
}

func TestEnvOverridesIgnoreMalformedValues(t *testing.T) {
	t.Setenv("OKXSIM_SERVER_PORT", "not-a-number")
	t.Setenv("OKXSIM_S3_ENABLED", "maybe")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.False(t, cfg.S3.Enabled)
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.Redis.Password = "redispass"
	cfg.S3.SecretKey = "s3secret"
	cfg.Server.APIKey = "apikey"
	cfg.Notify.TelegramToken = "tg-token"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Redis.Password)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Server.APIKey)
	assert.Equal(t, "***", red.Notify.TelegramToken)

	// Original is untouched and empty secrets stay empty.
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
	assert.Empty(t, red.Postgres.DSN)
}
