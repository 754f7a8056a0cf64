// Package config defines the top-level configuration for the simulation
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by OKXSIM_* environment variables.
type Config struct {
	OKX       OKXConfig            `toml:"okx"`
	Simulator SimulatorConfig      `toml:"simulator"`
	Fees      map[string]FeeConfig `toml:"fees"`
	Postgres  PostgresConfig       `toml:"postgres"`
	Redis     RedisConfig          `toml:"redis"`
	S3        S3Config             `toml:"s3"`
	Server    ServerConfig         `toml:"server"`
	Notify    NotifyConfig         `toml:"notify"`
	Archive   ArchiveConfig        `toml:"archive"`
	Replay    ReplayConfig         `toml:"replay"`
	Mode      string               `toml:"mode"`
	LogLevel  string               `toml:"log_level"`
}

// OKXConfig holds the market data feed parameters.
type OKXConfig struct {
	WsURL  string `toml:"ws_url"`
	InstID string `toml:"inst_id"`

	// RecordFrames enables buffering raw feed frames and flushing them to
	// object storage for later replay.
	RecordFrames        bool     `toml:"record_frames"`
	RecordCapacity      int      `toml:"record_capacity"`
	RecordFlushInterval duration `toml:"record_flush_interval"`
}

// SimulatorConfig holds the cost-model parameters.
type SimulatorConfig struct {
	// ImpactModel selects the impact curve: "linear" or "square_root".
	ImpactModel string `toml:"impact_model"`
	// ImpactCoefficientBps scales the impact curve, in basis points of
	// filled notional at full depth consumption. Decimal string, e.g. "100".
	ImpactCoefficientBps string `toml:"impact_coefficient_bps"`
	// DefaultFeeTier is used when a simulation request names no tier or an
	// unknown one.
	DefaultFeeTier string `toml:"default_fee_tier"`
}

// FeeConfig is one row of the fee table, keyed by tier name in the TOML
// [fees.VIPn] sections. Rates are decimal strings in basis points.
type FeeConfig struct {
	MakerBps string `toml:"maker_bps"`
	TakerBps string `toml:"taker_bps"`
}

// PostgresConfig holds PostgreSQL connection parameters. When disabled the
// engine runs without simulation history or the gap audit trail.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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

// S3Config holds S3-compatible object storage parameters. When disabled,
// frame recording, replay, and archiving are unavailable.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`

	// RateLimit caps requests per client per RateWindow; zero disables.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ArchiveConfig controls the retention job that moves old simulation and gap
// rows out of Postgres into object storage.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// ReplayConfig holds parameters for replay mode.
type ReplayConfig struct {
	// Prefix is the object-storage prefix holding recorded frames. Empty
	// defaults to "frames/{inst_id}/".
	Prefix string `toml:"prefix"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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
func Defaults() Config {
	return Config{
		OKX: OKXConfig{
			WsURL:               "wss://ws.okx.com:8443/ws/v5/public",
			InstID:              "BTC-USDT",
			RecordFrames:        false,
			RecordCapacity:      1000,
			RecordFlushInterval: duration{30 * time.Second},
		},
		Simulator: SimulatorConfig{
			ImpactModel:          "linear",
			ImpactCoefficientBps: "100",
			DefaultFeeTier:       "VIP0",
		},
		Fees: map[string]FeeConfig{
			"VIP0": {MakerBps: "8", TakerBps: "10"},
			"VIP1": {MakerBps: "6.5", TakerBps: "9"},
			"VIP2": {MakerBps: "6", TakerBps: "8"},
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "okxsim",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "okxsim-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   0,
			RateWindow:  duration{time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"sequence_gap", "feed_stale"},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 30,
			Interval:      duration{24 * time.Hour},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"full":    true,
	"monitor": true,
	"server":  true,
	"replay":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validImpactModels enumerates the accepted impact curves. "custom" is only
// reachable programmatically, not via config.
var validImpactModels = map[string]bool{
	"linear":      true,
	"square_root": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, monitor, server, replay)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// OKX feed
	if c.OKX.WsURL == "" {
		errs = append(errs, "okx: ws_url must not be empty")
	}
	if c.OKX.InstID == "" {
		errs = append(errs, "okx: inst_id must not be empty")
	}
	if c.OKX.RecordFrames {
		if !c.S3.Enabled {
			errs = append(errs, "okx: record_frames requires s3.enabled")
		}
		if c.OKX.RecordCapacity < 1 {
			errs = append(errs, "okx: record_capacity must be >= 1")
		}
		if c.OKX.RecordFlushInterval.Duration <= 0 {
			errs = append(errs, "okx: record_flush_interval must be positive")
		}
	}

	// Simulator
	if !validImpactModels[strings.ToLower(c.Simulator.ImpactModel)] {
		errs = append(errs, fmt.Sprintf("simulator: unknown impact_model %q (valid: linear, square_root)", c.Simulator.ImpactModel))
	}
	if coeff, err := decimal.NewFromString(c.Simulator.ImpactCoefficientBps); err != nil {
		errs = append(errs, fmt.Sprintf("simulator: impact_coefficient_bps %q is not a decimal", c.Simulator.ImpactCoefficientBps))
	} else if coeff.IsNegative() {
		errs = append(errs, "simulator: impact_coefficient_bps must be >= 0")
	}
	if c.Simulator.DefaultFeeTier != "" {
		if _, ok := c.Fees[c.Simulator.DefaultFeeTier]; !ok {
			errs = append(errs, fmt.Sprintf("simulator: default_fee_tier %q has no [fees.%s] entry", c.Simulator.DefaultFeeTier, c.Simulator.DefaultFeeTier))
		}
	}

	// Fees
	for tier, fee := range c.Fees {
		if _, err := decimal.NewFromString(fee.MakerBps); err != nil {
			errs = append(errs, fmt.Sprintf("fees.%s: maker_bps %q is not a decimal", tier, fee.MakerBps))
		}
		if _, err := decimal.NewFromString(fee.TakerBps); err != nil {
			errs = append(errs, fmt.Sprintf("fees.%s: taker_bps %q is not a decimal", tier, fee.TakerBps))
		}
	}

	// Postgres
	if c.Postgres.Enabled {
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
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Archive
	if c.Archive.Enabled {
		if !c.S3.Enabled {
			errs = append(errs, "archive: enabled requires s3.enabled")
		}
		if !c.Postgres.Enabled {
			errs = append(errs, "archive: enabled requires postgres.enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive")
		}
	}

	// Replay mode needs recordings to read.
	if strings.ToLower(c.Mode) == "replay" && !c.S3.Enabled {
		errs = append(errs, "replay mode requires s3.enabled")
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
			errs = append(errs, "server: rate_window must be positive when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
