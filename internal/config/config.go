/**
 * @description
 * Configuration management for the rental-finance service. Values come from environment
 * variables, optionally seeded from a .env file in the given directory.
 *
 * @dependencies
 * - github.com/spf13/viper: configuration binding.
 */
package config

import (
	"errors"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	RabbitMQURL         string `mapstructure:"RABBITMQ_URL"`
	EventExchange       string `mapstructure:"EVENT_EXCHANGE"`
	SettledPaymentQueue string `mapstructure:"SETTLED_PAYMENT_QUEUE"`

	RedisURL                 string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix     string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	TenantRateLimitPerMinute int    `mapstructure:"TENANT_RATE_LIMIT_PER_MINUTE"`

	AuthJWTSecret  string `mapstructure:"AUTH_JWT_SECRET"`
	AuthJWTIssuer  string `mapstructure:"AUTH_JWT_ISSUER"`
	InternalAPIKey string `mapstructure:"INTERNAL_API_KEY"`

	DocumentServiceURL    string `mapstructure:"DOCUMENT_SERVICE_URL"`
	DocumentServiceAPIKey string `mapstructure:"DOCUMENT_SERVICE_API_KEY"`
	AutoIssueReceipts     bool   `mapstructure:"AUTO_ISSUE_RECEIPTS"`

	BusinessTimezone       string `mapstructure:"BUSINESS_TIMEZONE"`
	OpenEndedHorizonMonths int    `mapstructure:"OPEN_ENDED_HORIZON_MONTHS"`

	PenaltyJobSchedule          string `mapstructure:"PENALTY_JOB_SCHEDULE"`
	InstallmentTopUpJobSchedule string `mapstructure:"INSTALLMENT_TOPUP_JOB_SCHEDULE"`

	OutboxPollIntervalMS int `mapstructure:"OUTBOX_POLL_INTERVAL_MS"`
	OutboxBatchSize      int `mapstructure:"OUTBOX_BATCH_SIZE"`
}

// OutboxPollInterval returns the dispatcher tick as a duration.
func (c Config) OutboxPollInterval() time.Duration {
	return time.Duration(c.OutboxPollIntervalMS) * time.Millisecond
}

// LoadConfig reads configuration from environment variables and an optional .env file in path.
func LoadConfig(path string) (config Config, err error) {
	if path != "" {
		viper.AddConfigPath(path)
		viper.SetConfigName(".env")
		viper.SetConfigType("env")
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("DB_MAX_CONNS", 20)
	viper.SetDefault("DB_MIN_CONNS", 2)
	viper.SetDefault("EVENT_EXCHANGE", "immotopia.events")
	viper.SetDefault("SETTLED_PAYMENT_QUEUE", "rental_finance.settled_payments")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "rental_finance:rate_limit")
	viper.SetDefault("TENANT_RATE_LIMIT_PER_MINUTE", 120)
	viper.SetDefault("AUTO_ISSUE_RECEIPTS", false)
	viper.SetDefault("BUSINESS_TIMEZONE", "Africa/Abidjan")
	viper.SetDefault("OPEN_ENDED_HORIZON_MONTHS", 3)
	viper.SetDefault("PENALTY_JOB_SCHEDULE", "15 1 * * *")
	viper.SetDefault("INSTALLMENT_TOPUP_JOB_SCHEDULE", "30 0 1 * *")
	viper.SetDefault("OUTBOX_POLL_INTERVAL_MS", 1200)
	viper.SetDefault("OUTBOX_BATCH_SIZE", 50)

	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("DB_MAX_CONNS")
	_ = viper.BindEnv("DB_MIN_CONNS")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENT_EXCHANGE")
	_ = viper.BindEnv("SETTLED_PAYMENT_QUEUE")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("TENANT_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("AUTH_JWT_SECRET")
	_ = viper.BindEnv("AUTH_JWT_ISSUER")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("DOCUMENT_SERVICE_URL")
	_ = viper.BindEnv("DOCUMENT_SERVICE_API_KEY", "DOCUMENT_SERVICE_API_KEY", "DOCUMENT_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("AUTO_ISSUE_RECEIPTS")
	_ = viper.BindEnv("BUSINESS_TIMEZONE")
	_ = viper.BindEnv("OPEN_ENDED_HORIZON_MONTHS")
	_ = viper.BindEnv("PENALTY_JOB_SCHEDULE")
	_ = viper.BindEnv("INSTALLMENT_TOPUP_JOB_SCHEDULE")
	_ = viper.BindEnv("OUTBOX_POLL_INTERVAL_MS")
	_ = viper.BindEnv("OUTBOX_BATCH_SIZE")

	if path != "" {
		if err = viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
			}
			err = nil
		}
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	if config.DatabaseURL == "" {
		return config, errors.New("DATABASE_URL is required")
	}

	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "rental_finance:rate_limit"
	}
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.DocumentServiceAPIKey = strings.TrimSpace(config.DocumentServiceAPIKey)
	if config.DocumentServiceAPIKey == "" {
		config.DocumentServiceAPIKey = config.InternalAPIKey
	}

	if config.TenantRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative tenant rate limit configured; disabling\" value=%d", config.TenantRateLimitPerMinute)
		config.TenantRateLimitPerMinute = 0
	}
	if config.OpenEndedHorizonMonths <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive open-ended horizon; using default\" value=%d", config.OpenEndedHorizonMonths)
		config.OpenEndedHorizonMonths = 3
	}
	if config.DBMaxConns <= 0 {
		config.DBMaxConns = 20
	}
	if config.DBMinConns < 0 || config.DBMinConns > config.DBMaxConns {
		config.DBMinConns = 0
	}
	if config.OutboxPollIntervalMS <= 0 {
		config.OutboxPollIntervalMS = 1200
	}
	if config.OutboxBatchSize <= 0 {
		config.OutboxBatchSize = 50
	}
	if _, tzErr := time.LoadLocation(config.BusinessTimezone); tzErr != nil {
		log.Printf("level=warn component=config msg=\"invalid business timezone; using UTC\" value=%q", config.BusinessTimezone)
		config.BusinessTimezone = "UTC"
	}

	return config, nil
}
