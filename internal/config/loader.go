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
// built-in defaults, applies OKXSIM_* environment variable overrides, and
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

// applyEnvOverrides reads well-known OKXSIM_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── OKX ──
	setStr(&cfg.OKX.WsURL, "OKXSIM_OKX_WS_URL")
	setStr(&cfg.OKX.InstID, "OKXSIM_OKX_INST_ID")
	setBool(&cfg.OKX.RecordFrames, "OKXSIM_OKX_RECORD_FRAMES")
	setInt(&cfg.OKX.RecordCapacity, "OKXSIM_OKX_RECORD_CAPACITY")
	setDuration(&cfg.OKX.RecordFlushInterval, "OKXSIM_OKX_RECORD_FLUSH_INTERVAL")

	// ── Simulator ──
	setStr(&cfg.Simulator.ImpactModel, "OKXSIM_SIMULATOR_IMPACT_MODEL")
	setStr(&cfg.Simulator.ImpactCoefficientBps, "OKXSIM_SIMULATOR_IMPACT_COEFFICIENT_BPS")
	setStr(&cfg.Simulator.DefaultFeeTier, "OKXSIM_SIMULATOR_DEFAULT_FEE_TIER")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "OKXSIM_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "OKXSIM_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "OKXSIM_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "OKXSIM_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "OKXSIM_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "OKXSIM_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "OKXSIM_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "OKXSIM_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "OKXSIM_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "OKXSIM_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "OKXSIM_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "OKXSIM_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "OKXSIM_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "OKXSIM_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "OKXSIM_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "OKXSIM_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "OKXSIM_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "OKXSIM_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "OKXSIM_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "OKXSIM_S3_REGION")
	setStr(&cfg.S3.Bucket, "OKXSIM_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "OKXSIM_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "OKXSIM_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "OKXSIM_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "OKXSIM_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "OKXSIM_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "OKXSIM_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "OKXSIM_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "OKXSIM_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "OKXSIM_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "OKXSIM_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "OKXSIM_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "OKXSIM_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "OKXSIM_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "OKXSIM_NOTIFY_EVENTS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "OKXSIM_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "OKXSIM_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "OKXSIM_ARCHIVE_INTERVAL")

	// ── Replay ──
	setStr(&cfg.Replay.Prefix, "OKXSIM_REPLAY_PREFIX")

	// ── Top-level ──
	setStr(&cfg.Mode, "OKXSIM_MODE")
	setStr(&cfg.LogLevel, "OKXSIM_LOG_LEVEL")
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
