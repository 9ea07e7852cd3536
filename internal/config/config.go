// Package config defines the top-level configuration for the cryptara
// staking service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/amadeodlp/cryptara/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CRYPTARA_* environment variables.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Staking  StakingConfig  `toml:"staking"`
	Prices   PricesConfig   `toml:"prices"`
	Chain    ChainConfig    `toml:"chain"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Mode     string         `toml:"mode"`
	Storage  string         `toml:"storage"`
	LogLevel string         `toml:"log_level"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
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

// RedisConfig holds Redis connection parameters. An empty Addr disables
// Redis; locks, events and rate limiting then run in process.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters for the archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// StakingConfig holds engine timing and, for the memory store, the rate table.
type StakingConfig struct {
	LockTTL  duration     `toml:"lock_ttl"`
	LockWait duration     `toml:"lock_wait"`
	Rates    []RateConfig `toml:"rates"`
}

// RateConfig is one [[staking.rates]] entry. APY is a decimal string so no
// precision is lost to float parsing.
type RateConfig struct {
	Token        string `toml:"token"`
	DurationDays int    `toml:"duration_days"`
	APY          string `toml:"apy"`
	Active       bool   `toml:"active"`
}

// PricesConfig configures the CoinMarketCap quote refresher. An empty
// APIKey disables it.
type PricesConfig struct {
	APIKey   string   `toml:"cmc_api_key"`
	BaseURL  string   `toml:"base_url"`
	Symbols  []string `toml:"symbols"`
	Interval duration `toml:"interval"`
	TTL      duration `toml:"ttl"`
	Timeout  duration `toml:"timeout"`
}

// ChainConfig configures on-chain balance reads. An empty RPCURL disables
// the chain endpoint.
type ChainConfig struct {
	RPCURL string `toml:"rpc_url"`
}

// maxRateDurationDays caps a staking program at one hundred years.
const maxRateDurationDays = 36500

// ArchiveConfig holds transaction-log archiving parameters.
type ArchiveConfig struct {
	Cron         string `toml:"cron"`
	LookbackDays int    `toml:"lookback_days"`
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	JWTSecret   string   `toml:"jwt_secret"`
	JWTIssuer   string   `toml:"jwt_issuer"`
	JWTAudience string   `toml:"jwt_audience"`
	AdminAPIKey string   `toml:"admin_api_key"`
	// RateLimit is requests per minute per client; 0 disables limiting.
	RateLimit int `toml:"rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	QueueSize         int      `toml:"queue_size"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "cryptara",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "cryptara",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "cryptara-archive",
			ForcePathStyle: true,
		},
		Staking: StakingConfig{
			LockTTL:  duration{30 * time.Second},
			LockWait: duration{5 * time.Second},
			Rates: []RateConfig{
				{Token: "ETH", DurationDays: 30, APY: "5.2", Active: true},
				{Token: "ETH", DurationDays: 90, APY: "6.5", Active: true},
				{Token: "FIN", DurationDays: 30, APY: "12.5", Active: true},
				{Token: "FIN", DurationDays: 90, APY: "15.0", Active: true},
			},
		},
		Prices: PricesConfig{
			BaseURL:  "https://pro-api.coinmarketcap.com",
			Symbols:  []string{"ETH", "BTC"},
			Interval: duration{time.Minute},
			TTL:      duration{5 * time.Minute},
			Timeout:  duration{10 * time.Second},
		},
		Archive: ArchiveConfig{
			Cron:         "0 2 * * *",
			LookbackDays: 7,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			JWTIssuer:   "cryptara",
			RateLimit:   120,
		},
		Notify: NotifyConfig{
			Events:    []string{"staking successful", "unstaking completed"},
			QueueSize: 256,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Mode:     "server",
		Storage:  "postgres",
		LogLevel: "info",
	}
}

// RateEntries converts the configured rates into domain entries, normalising
// token symbols.
func (c *StakingConfig) RateEntries() ([]domain.RateEntry, error) {
	out := make([]domain.RateEntry, 0, len(c.Rates))
	for i, r := range c.Rates {
		apy, err := decimal.NewFromString(strings.TrimSpace(r.APY))
		if err != nil {
			return nil, fmt.Errorf("staking.rates[%d]: apy %q: %w", i, r.APY, err)
		}
		out = append(out, domain.RateEntry{
			ID:           int64(i + 1),
			Token:        strings.ToUpper(strings.TrimSpace(r.Token)),
			DurationDays: r.DurationDays,
			APY:          apy,
			Active:       r.Active,
		})
	}
	return out, nil
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"archive": true,
	"full":    true,
}

// validStorage enumerates the accepted values for Config.Storage.
var validStorage = map[string]bool{
	"postgres": true,
	"memory":   true,
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

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, archive, full)", c.Mode))
	}
	if !validStorage[strings.ToLower(c.Storage)] {
		errs = append(errs, fmt.Sprintf("unknown storage %q (valid: postgres, memory)", c.Storage))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Database
	if strings.EqualFold(c.Storage, "postgres") {
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
	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 is only needed when something archives.
	if mode == "archive" || mode == "full" {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.Archive.LookbackDays < 1 {
			errs = append(errs, "archive: lookback_days must be >= 1")
		}
	}
	if mode == "full" && strings.TrimSpace(c.Archive.Cron) == "" {
		errs = append(errs, "archive: cron must not be empty in full mode")
	}

	// Staking
	if c.Staking.LockTTL.Duration <= 0 {
		errs = append(errs, "staking: lock_ttl must be > 0")
	}
	if c.Staking.LockWait.Duration <= 0 {
		errs = append(errs, "staking: lock_wait must be > 0")
	}
	for i, r := range c.Staking.Rates {
		if strings.TrimSpace(r.Token) == "" {
			errs = append(errs, fmt.Sprintf("staking.rates[%d]: token must not be empty", i))
		}
		if r.DurationDays < 1 || r.DurationDays > maxRateDurationDays {
			errs = append(errs, fmt.Sprintf("staking.rates[%d]: duration_days must be between 1 and %d", i, maxRateDurationDays))
		}
		apy, err := decimal.NewFromString(strings.TrimSpace(r.APY))
		if err != nil || apy.IsNegative() {
			errs = append(errs, fmt.Sprintf("staking.rates[%d]: apy must be a non-negative decimal, got %q", i, r.APY))
		}
	}

	// Prices
	if c.Prices.APIKey != "" {
		if c.Prices.BaseURL == "" {
			errs = append(errs, "prices: base_url must not be empty")
		}
		if len(c.Prices.Symbols) == 0 {
			errs = append(errs, "prices: symbols must not be empty")
		}
		if c.Prices.Interval.Duration <= 0 {
			errs = append(errs, "prices: interval must be > 0")
		}
	}

	// Server
	if c.Server.Enabled && mode != "archive" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if len(c.Server.JWTSecret) < 32 {
			errs = append(errs, "server: jwt_secret must be at least 32 bytes")
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	// Notify
	if c.Notify.QueueSize < 1 {
		errs = append(errs, "notify: queue_size must be >= 1")
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
