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
// built-in defaults, applies CRYPTARA_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned
// Config has NOT been validated; the caller should invoke Config.Validate()
// after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CRYPTARA_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setStr(&cfg.Database.DSN, "CRYPTARA_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "CRYPTARA_DATABASE_HOST")
	setInt(&cfg.Database.Port, "CRYPTARA_DATABASE_PORT")
	setStr(&cfg.Database.Database, "CRYPTARA_DATABASE_NAME")
	setStr(&cfg.Database.User, "CRYPTARA_DATABASE_USER")
	setStr(&cfg.Database.Password, "CRYPTARA_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "CRYPTARA_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "CRYPTARA_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "CRYPTARA_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "CRYPTARA_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CRYPTARA_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CRYPTARA_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CRYPTARA_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CRYPTARA_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "CRYPTARA_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "CRYPTARA_REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "CRYPTARA_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CRYPTARA_S3_REGION")
	setStr(&cfg.S3.Bucket, "CRYPTARA_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CRYPTARA_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CRYPTARA_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CRYPTARA_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CRYPTARA_S3_FORCE_PATH_STYLE")

	// ── Staking ──
	setDuration(&cfg.Staking.LockTTL, "CRYPTARA_STAKING_LOCK_TTL")
	setDuration(&cfg.Staking.LockWait, "CRYPTARA_STAKING_LOCK_WAIT")

	// ── Prices ──
	setStr(&cfg.Prices.APIKey, "CRYPTARA_PRICES_CMC_API_KEY")
	setStr(&cfg.Prices.BaseURL, "CRYPTARA_PRICES_BASE_URL")
	setStringSlice(&cfg.Prices.Symbols, "CRYPTARA_PRICES_SYMBOLS")
	setDuration(&cfg.Prices.Interval, "CRYPTARA_PRICES_INTERVAL")
	setDuration(&cfg.Prices.TTL, "CRYPTARA_PRICES_TTL")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "CRYPTARA_CHAIN_RPC_URL")

	// ── Archive ──
	setStr(&cfg.Archive.Cron, "CRYPTARA_ARCHIVE_CRON")
	setInt(&cfg.Archive.LookbackDays, "CRYPTARA_ARCHIVE_LOOKBACK_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "CRYPTARA_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "CRYPTARA_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CRYPTARA_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.JWTSecret, "CRYPTARA_SERVER_JWT_SECRET")
	setStr(&cfg.Server.JWTIssuer, "CRYPTARA_SERVER_JWT_ISSUER")
	setStr(&cfg.Server.JWTAudience, "CRYPTARA_SERVER_JWT_AUDIENCE")
	setStr(&cfg.Server.AdminAPIKey, "CRYPTARA_SERVER_ADMIN_API_KEY")
	setInt(&cfg.Server.RateLimit, "CRYPTARA_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CRYPTARA_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CRYPTARA_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CRYPTARA_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CRYPTARA_NOTIFY_EVENTS")
	setInt(&cfg.Notify.QueueSize, "CRYPTARA_NOTIFY_QUEUE_SIZE")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "CRYPTARA_METRICS_ENABLED")

	// ── Top-level ──
	setStr(&cfg.Mode, "CRYPTARA_MODE")
	setStr(&cfg.Storage, "CRYPTARA_STORAGE")
	setStr(&cfg.LogLevel, "CRYPTARA_LOG_LEVEL")
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
