package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Environment    string               `mapstructure:"environment"`
	LogLevel       string               `mapstructure:"log_level"`
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	JWT            JWTConfig            `mapstructure:"jwt"`
	Payment        PaymentConfig        `mapstructure:"payment"`
	Risk           RiskConfig           `mapstructure:"risk"`
	Referral       ReferralConfig       `mapstructure:"referral"`
	Chains         map[string]ChainConfig `mapstructure:"chains"`
	Workers        WorkerConfig         `mapstructure:"workers"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
}

type ServerConfig struct {
	Port         int      `mapstructure:"port"`
	Host         string   `mapstructure:"host"`
	ReadTimeout  int      `mapstructure:"read_timeout"`
	WriteTimeout int      `mapstructure:"write_timeout"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string `mapstructure:"migrations_path"`
}

type RedisConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	MaxRetries int    `mapstructure:"max_retries"`
	PoolSize   int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret    string `mapstructure:"secret"`
	AccessTTL int    `mapstructure:"access_token_ttl"`
	Issuer    string `mapstructure:"issuer"`
}

// PaymentConfig is the payment-processing policy. It is loaded once per
// request and passed into core operations as a value, never shared as a
// mutable global.
type PaymentConfig struct {
	ToleranceBps          int64             `mapstructure:"tolerance_bps"`
	StaleSubmittedMinutes int               `mapstructure:"stale_submitted_minutes"`
	ProviderSecrets       map[string]string `mapstructure:"provider_secrets"`
}

// RiskConfig holds the rate/volume thresholds the risk gate enforces
type RiskConfig struct {
	MaxCreditsPerHour       int   `mapstructure:"max_credits_per_hour"`
	MaxStarsPerDay          int64 `mapstructure:"max_stars_per_day"`
	MinSecondsBetweenCredits int  `mapstructure:"min_seconds_between_credits"`
}

type ReferralConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	Percent      int  `mapstructure:"percent"`
	ApplyOnTopup bool `mapstructure:"apply_on_topup"`
	ApplyOnEarn  bool `mapstructure:"apply_on_earn"`
}

// ChainConfig is the per-chain webhook policy. ConfirmImmediately decides
// whether a valid observation confirms the deposit at once or only advances
// it to observed pending further confirmations.
type ChainConfig struct {
	ConfirmImmediately bool `mapstructure:"confirm_immediately"`
	MinConfirmations   int  `mapstructure:"min_confirmations"`
}

type WorkerConfig struct {
	OutboxPollSeconds int `mapstructure:"outbox_poll_seconds"`
	OutboxBatchSize   int `mapstructure:"outbox_batch_size"`
	OutboxMaxAttempts int `mapstructure:"outbox_max_attempts"`
}

type ReconciliationConfig struct {
	BalanceAuditCron string `mapstructure:"balance_audit_cron"`
	StaleSweepCron   string `mapstructure:"stale_sweep_cron"`
	HoldSweepCron    string `mapstructure:"hold_sweep_cron"`
}

// Load reads configuration from config files and environment variables
func Load() (*Config, error) {
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks required keys and value ranges
func (c *Config) Validate() error {
	if c.Database.URL == "" && c.Database.Host == "" {
		return fmt.Errorf("database url or host is required")
	}
	if c.Payment.ToleranceBps < 0 {
		return fmt.Errorf("payment.tolerance_bps must be >= 0")
	}
	if c.Referral.Enabled && (c.Referral.Percent < 1 || c.Referral.Percent > 20) {
		return fmt.Errorf("referral.percent must be between 1 and 20")
	}
	return nil
}

// ChainPolicy returns the webhook policy for a chain, defaulting to
// confirm-immediately when the chain is not configured.
func (c *Config) ChainPolicy(chain string) ChainConfig {
	if cc, ok := c.Chains[chain]; ok {
		return cc
	}
	return ChainConfig{ConfirmImmediately: true}
}

// DSN builds the postgres connection string when no full URL is configured
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// StaleSubmittedAge converts the configured minutes into a duration
func (p PaymentConfig) StaleSubmittedAge() time.Duration {
	return time.Duration(p.StaleSubmittedMinutes) * time.Minute
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "stars_service")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 50)
	viper.SetDefault("database.max_idle_conns", 10)
	viper.SetDefault("database.conn_max_lifetime", 3600)
	viper.SetDefault("database.migrations_path", "migrations")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.pool_size", 10)

	viper.SetDefault("jwt.access_token_ttl", 3600)
	viper.SetDefault("jwt.issuer", "stars_service")

	viper.SetDefault("payment.tolerance_bps", 50)
	viper.SetDefault("payment.stale_submitted_minutes", 120)

	viper.SetDefault("risk.max_credits_per_hour", 6)
	viper.SetDefault("risk.max_stars_per_day", 100000)
	viper.SetDefault("risk.min_seconds_between_credits", 30)

	viper.SetDefault("referral.enabled", false)
	viper.SetDefault("referral.percent", 5)
	viper.SetDefault("referral.apply_on_topup", true)
	viper.SetDefault("referral.apply_on_earn", true)

	viper.SetDefault("workers.outbox_poll_seconds", 5)
	viper.SetDefault("workers.outbox_batch_size", 20)
	viper.SetDefault("workers.outbox_max_attempts", 8)

	viper.SetDefault("reconciliation.balance_audit_cron", "0 * * * *")
	viper.SetDefault("reconciliation.stale_sweep_cron", "*/15 * * * *")
	viper.SetDefault("reconciliation.hold_sweep_cron", "*/5 * * * *")
}

func overrideFromEnv() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("server.port", p)
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		viper.Set("database.url", dbURL)
	}
	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		viper.Set("jwt.secret", jwtSecret)
	}
	if redisURL := os.Getenv("REDIS_HOST"); redisURL != "" {
		viper.Set("redis.host", redisURL)
	}
}
