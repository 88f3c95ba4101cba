// Package config defines the top-level configuration for the cost
// simulator and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by COSTSIM_* environment
// variables.
type Config struct {
	Feed     FeedConfig     `toml:"feed"`
	Market   MarketConfig   `toml:"market"`
	Models   ModelsConfig   `toml:"models"`
	Fees     FeesConfig     `toml:"fees"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// FeedConfig holds the L2 orderbook WebSocket parameters.
type FeedConfig struct {
	URL                  string   `toml:"url"`
	ReconnectDelay       duration `toml:"reconnect_delay"`
	MaxReconnectDelay    duration `toml:"max_reconnect_delay"`
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts"`
}

// MarketConfig identifies the instrument being simulated.
type MarketConfig struct {
	Exchange        string `toml:"exchange"`
	Symbol          string `toml:"symbol"`
	MaxPriceHistory int    `toml:"max_price_history"`
}

// ModelsConfig holds the cost model parameters.
type ModelsConfig struct {
	Adaptive          bool    `toml:"adaptive"`
	AdaptationRate    float64 `toml:"adaptation_rate"`
	Sigma             float64 `toml:"sigma"`
	Gamma             float64 `toml:"gamma"`
	Eta               float64 `toml:"eta"`
	Epsilon           float64 `toml:"epsilon"`
	Tau               float64 `toml:"tau"`
	MinRetrainSamples int     `toml:"min_retrain_samples"`
	MakerTakerModel   string  `toml:"maker_taker_model"`
}

// FeesConfig holds the exchange fee schedule.
type FeesConfig struct {
	MakerRate float64         `toml:"maker_rate"`
	TakerRate float64         `toml:"taker_rate"`
	Tiers     []FeeTierConfig `toml:"tiers"`
}

// FeeTierConfig is one volume tier of the fee schedule.
type FeeTierConfig struct {
	MinVolume float64 `toml:"min_volume"`
	MakerRate float64 `toml:"maker_rate"`
	TakerRate float64 `toml:"taker_rate"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
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
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
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

// ArchiveConfig holds cold-storage archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
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
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Feed: FeedConfig{
			URL:                  "wss://ws.gomarket-cpp.goquant.io/ws/l2-orderbook/okx/BTC-USDT-SWAP",
			ReconnectDelay:       duration{5 * time.Second},
			MaxReconnectDelay:    duration{60 * time.Second},
			MaxReconnectAttempts: 10,
		},
		Market: MarketConfig{
			Exchange:        "OKX",
			Symbol:          "BTC-USDT-SWAP",
			MaxPriceHistory: 1000,
		},
		Models: ModelsConfig{
			Adaptive:          true,
			AdaptationRate:    0.1,
			Sigma:             0.02,
			Gamma:             0.1,
			Eta:               0.00001,
			Epsilon:           0.0001,
			Tau:               300,
			MinRetrainSamples: 50,
			MakerTakerModel:   "ensemble",
		},
		Fees: FeesConfig{
			MakerRate: 0.0002,
			TakerRate: 0.0005,
			Tiers: []FeeTierConfig{
				{MinVolume: 0, MakerRate: 0.0002, TakerRate: 0.0005},
				{MinVolume: 1_000_000, MakerRate: 0.00015, TakerRate: 0.0004},
				{MinVolume: 5_000_000, MakerRate: 0.0001, TakerRate: 0.0003},
				{MinVolume: 25_000_000, MakerRate: 0.00005, TakerRate: 0.0002},
				{MinVolume: 100_000_000, MakerRate: 0, TakerRate: 0.0001},
			},
		},
		Database: DatabaseConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "costsim",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
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
			Bucket:         "costsim-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Notify: NotifyConfig{
			Events: []string{"feed_disconnected", "connection_fatal", "retrain_failed", "error"},
		},
		Mode:     "simulate",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"ingest":   true,
	"simulate": true,
	"full":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validMakerTakerModels enumerates the accepted classifier types.
var validMakerTakerModels = map[string]bool{
	"logistic": true,
	"ensemble": true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: ingest, simulate, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Feed
	if c.Feed.URL == "" {
		errs = append(errs, "feed: url must not be empty")
	}
	if c.Feed.ReconnectDelay.Duration <= 0 {
		errs = append(errs, "feed: reconnect_delay must be positive")
	}
	if c.Feed.MaxReconnectDelay.Duration < c.Feed.ReconnectDelay.Duration {
		errs = append(errs, "feed: max_reconnect_delay must be >= reconnect_delay")
	}
	if c.Feed.MaxReconnectAttempts < 1 {
		errs = append(errs, "feed: max_reconnect_attempts must be >= 1")
	}

	// Market
	if c.Market.Symbol == "" {
		errs = append(errs, "market: symbol must not be empty")
	}
	if c.Market.MaxPriceHistory < 2 {
		errs = append(errs, "market: max_price_history must be >= 2")
	}

	// Models
	if c.Models.Sigma <= 0 {
		errs = append(errs, "models: sigma must be > 0")
	}
	if c.Models.Gamma <= 0 {
		errs = append(errs, "models: gamma must be > 0")
	}
	if c.Models.Eta < 0 {
		errs = append(errs, "models: eta must be >= 0")
	}
	if c.Models.Epsilon < 0 {
		errs = append(errs, "models: epsilon must be >= 0")
	}
	if c.Models.Tau <= 0 {
		errs = append(errs, "models: tau must be > 0")
	}
	if c.Models.AdaptationRate < 0 || c.Models.AdaptationRate > 1 {
		errs = append(errs, fmt.Sprintf("models: adaptation_rate must be in [0,1], got %v", c.Models.AdaptationRate))
	}
	if c.Models.MinRetrainSamples < 10 {
		errs = append(errs, "models: min_retrain_samples must be >= 10")
	}
	if !validMakerTakerModels[strings.ToLower(c.Models.MakerTakerModel)] {
		errs = append(errs, fmt.Sprintf("models: unknown maker_taker_model %q (valid: logistic, ensemble)", c.Models.MakerTakerModel))
	}

	// Fees
	if c.Fees.MakerRate < 0 || c.Fees.TakerRate < 0 {
		errs = append(errs, "fees: maker_rate and taker_rate must be >= 0")
	}
	for i, tier := range c.Fees.Tiers {
		if tier.MinVolume < 0 {
			errs = append(errs, fmt.Sprintf("fees: tiers[%d].min_volume must be >= 0", i))
		}
		if tier.MakerRate < 0 || tier.TakerRate < 0 {
			errs = append(errs, fmt.Sprintf("fees: tiers[%d] rates must be >= 0", i))
		}
	}

	// Database
	if c.Database.Enabled {
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				errs = append(errs, "database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
			if c.Database.Database == "" {
				errs = append(errs, "database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns < 0 {
			errs = append(errs, "database: pool_min_conns must be >= 0")
		}
		if c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
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

	// Archive needs both database and object storage.
	if c.Archive.Enabled {
		if !c.Database.Enabled || !c.S3.Enabled {
			errs = append(errs, "archive: requires database and s3 to be enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
