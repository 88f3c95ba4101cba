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
// built-in defaults, applies COSTSIM_* environment variable overrides, and
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

// applyEnvOverrides reads well-known COSTSIM_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Feed ──
	setStr(&cfg.Feed.URL, "COSTSIM_FEED_URL")
	setDuration(&cfg.Feed.ReconnectDelay, "COSTSIM_FEED_RECONNECT_DELAY")
	setDuration(&cfg.Feed.MaxReconnectDelay, "COSTSIM_FEED_MAX_RECONNECT_DELAY")
	setInt(&cfg.Feed.MaxReconnectAttempts, "COSTSIM_FEED_MAX_RECONNECT_ATTEMPTS")

	// ── Market ──
	setStr(&cfg.Market.Exchange, "COSTSIM_MARKET_EXCHANGE")
	setStr(&cfg.Market.Symbol, "COSTSIM_MARKET_SYMBOL")
	setInt(&cfg.Market.MaxPriceHistory, "COSTSIM_MARKET_MAX_PRICE_HISTORY")

	// ── Models ──
	setBool(&cfg.Models.Adaptive, "COSTSIM_MODELS_ADAPTIVE")
	setFloat64(&cfg.Models.AdaptationRate, "COSTSIM_MODELS_ADAPTATION_RATE")
	setFloat64(&cfg.Models.Sigma, "COSTSIM_MODELS_SIGMA")
	setFloat64(&cfg.Models.Gamma, "COSTSIM_MODELS_GAMMA")
	setFloat64(&cfg.Models.Eta, "COSTSIM_MODELS_ETA")
	setFloat64(&cfg.Models.Epsilon, "COSTSIM_MODELS_EPSILON")
	setFloat64(&cfg.Models.Tau, "COSTSIM_MODELS_TAU")
	setInt(&cfg.Models.MinRetrainSamples, "COSTSIM_MODELS_MIN_RETRAIN_SAMPLES")
	setStr(&cfg.Models.MakerTakerModel, "COSTSIM_MODELS_MAKER_TAKER_MODEL")

	// ── Fees ──
	setFloat64(&cfg.Fees.MakerRate, "COSTSIM_FEES_MAKER_RATE")
	setFloat64(&cfg.Fees.TakerRate, "COSTSIM_FEES_TAKER_RATE")

	// ── Database ──
	setBool(&cfg.Database.Enabled, "COSTSIM_DATABASE_ENABLED")
	setStr(&cfg.Database.DSN, "COSTSIM_DATABASE_DSN")
	setStr(&cfg.Database.Host, "COSTSIM_DATABASE_HOST")
	setInt(&cfg.Database.Port, "COSTSIM_DATABASE_PORT")
	setStr(&cfg.Database.Database, "COSTSIM_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "COSTSIM_DATABASE_USER")
	setStr(&cfg.Database.Password, "COSTSIM_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "COSTSIM_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "COSTSIM_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "COSTSIM_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "COSTSIM_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "COSTSIM_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "COSTSIM_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "COSTSIM_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "COSTSIM_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "COSTSIM_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "COSTSIM_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "COSTSIM_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "COSTSIM_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "COSTSIM_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "COSTSIM_S3_REGION")
	setStr(&cfg.S3.Bucket, "COSTSIM_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "COSTSIM_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "COSTSIM_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "COSTSIM_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "COSTSIM_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "COSTSIM_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "COSTSIM_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "COSTSIM_ARCHIVE_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "COSTSIM_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "COSTSIM_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "COSTSIM_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "COSTSIM_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "COSTSIM_MODE")
	setStr(&cfg.LogLevel, "COSTSIM_LOG_LEVEL")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
