/**
 * @description
 * This package handles the configuration management for the wallet-service. It uses the
 * Viper library to read configuration from environment variables (and an optional .env
 * file), providing a centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	defaultServerPort           = "8085"
	defaultRateLimitPrefix      = "wallet:rate_limit"
	defaultEventsExchange       = "stokvel.events"
	defaultSettlementQueue      = "wallet_service.settlements"
	defaultCurrency             = "ZAR"
	defaultProcessorTimeoutSecs = 15
	defaultMutationRatePerMin   = 30
	defaultReconcileSchedule    = "@every 1m"
	defaultReconcileMinAgeSecs  = 120
	defaultReconcileAlertHours  = 24
	defaultReconcileBatchSize   = 100
)

// Config holds all the configuration variables for the wallet-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	StoreDriver          string `mapstructure:"STORE_DRIVER"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`

	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	EventsExchange       string `mapstructure:"EVENTS_EXCHANGE"`
	SettlementEventQueue string `mapstructure:"SETTLEMENT_EVENT_QUEUE"`

	JWTSecret          string `mapstructure:"JWT_SECRET"`
	JWTIssuer          string `mapstructure:"JWT_ISSUER"`
	InternalAPIKey     string `mapstructure:"INTERNAL_API_KEY"`
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	ProcessorBaseURL           string `mapstructure:"PROCESSOR_BASE_URL"`
	ProcessorAPIKey            string `mapstructure:"PROCESSOR_API_KEY"`
	ProcessorTimeoutSeconds    int    `mapstructure:"PROCESSOR_TIMEOUT_SECONDS"`
	GroupServiceURL            string `mapstructure:"GROUP_SERVICE_URL"`
	GroupServiceInternalAPIKey string `mapstructure:"GROUP_SERVICE_INTERNAL_API_KEY"`

	DefaultCurrency         string `mapstructure:"DEFAULT_CURRENCY"`
	MinDepositCents         int64  `mapstructure:"MIN_DEPOSIT_CENTS"`
	MaxDepositCents         int64  `mapstructure:"MAX_DEPOSIT_CENTS"`
	DailyDepositLimitCents  int64  `mapstructure:"DAILY_DEPOSIT_LIMIT_CENTS"`
	MinWithdrawalCents      int64  `mapstructure:"MIN_WITHDRAWAL_CENTS"`
	MaxWithdrawalCents      int64  `mapstructure:"MAX_WITHDRAWAL_CENTS"`
	MinTransferCents        int64  `mapstructure:"MIN_TRANSFER_CENTS"`
	MaxTransferCents        int64  `mapstructure:"MAX_TRANSFER_CENTS"`
	DailyTransferLimitCents int64  `mapstructure:"DAILY_TRANSFER_LIMIT_CENTS"`

	MutationRateLimitPerMinute int `mapstructure:"MUTATION_RATE_LIMIT_PER_MINUTE"`

	ReconcileSchedule      string `mapstructure:"RECONCILE_SCHEDULE"`
	ReconcileMinAgeSeconds int    `mapstructure:"RECONCILE_MIN_AGE_SECONDS"`
	ReconcileAlertAgeHours int    `mapstructure:"RECONCILE_ALERT_AGE_HOURS"`
	ReconcileBatchSize     int    `mapstructure:"RECONCILE_BATCH_SIZE"`
}

// CORSOrigins splits CORS_ALLOWED_ORIGINS on commas. Empty means allow all.
func (c Config) CORSOrigins() []string {
	origins := make([]string, 0)
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", defaultServerPort)
	viper.SetDefault("STORE_DRIVER", DriverPostgres)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", defaultRateLimitPrefix)
	viper.SetDefault("EVENTS_EXCHANGE", defaultEventsExchange)
	viper.SetDefault("SETTLEMENT_EVENT_QUEUE", defaultSettlementQueue)
	viper.SetDefault("PROCESSOR_TIMEOUT_SECONDS", defaultProcessorTimeoutSecs)
	viper.SetDefault("DEFAULT_CURRENCY", defaultCurrency)
	viper.SetDefault("MIN_DEPOSIT_CENTS", 100)
	viper.SetDefault("MAX_DEPOSIT_CENTS", 5000000)
	viper.SetDefault("DAILY_DEPOSIT_LIMIT_CENTS", 1000000)
	viper.SetDefault("MIN_WITHDRAWAL_CENTS", 1000)
	viper.SetDefault("MAX_WITHDRAWAL_CENTS", 5000000)
	viper.SetDefault("MIN_TRANSFER_CENTS", 100)
	viper.SetDefault("MAX_TRANSFER_CENTS", 5000000)
	viper.SetDefault("DAILY_TRANSFER_LIMIT_CENTS", 0)
	viper.SetDefault("MUTATION_RATE_LIMIT_PER_MINUTE", defaultMutationRatePerMin)
	viper.SetDefault("RECONCILE_SCHEDULE", defaultReconcileSchedule)
	viper.SetDefault("RECONCILE_MIN_AGE_SECONDS", defaultReconcileMinAgeSecs)
	viper.SetDefault("RECONCILE_ALERT_AGE_HOURS", defaultReconcileAlertHours)
	viper.SetDefault("RECONCILE_BATCH_SIZE", defaultReconcileBatchSize)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("STORE_DRIVER")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "WALLET_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("SETTLEMENT_EVENT_QUEUE")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("JWT_ISSUER")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "WALLET_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("PROCESSOR_BASE_URL")
	_ = viper.BindEnv("PROCESSOR_API_KEY")
	_ = viper.BindEnv("PROCESSOR_TIMEOUT_SECONDS")
	_ = viper.BindEnv("GROUP_SERVICE_URL")
	_ = viper.BindEnv("GROUP_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("DEFAULT_CURRENCY")
	_ = viper.BindEnv("MIN_DEPOSIT_CENTS")
	_ = viper.BindEnv("MAX_DEPOSIT_CENTS")
	_ = viper.BindEnv("DAILY_DEPOSIT_LIMIT_CENTS")
	_ = viper.BindEnv("MIN_WITHDRAWAL_CENTS")
	_ = viper.BindEnv("MAX_WITHDRAWAL_CENTS")
	_ = viper.BindEnv("MIN_TRANSFER_CENTS")
	_ = viper.BindEnv("MAX_TRANSFER_CENTS")
	_ = viper.BindEnv("DAILY_TRANSFER_LIMIT_CENTS")
	_ = viper.BindEnv("MUTATION_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("RECONCILE_SCHEDULE")
	_ = viper.BindEnv("RECONCILE_MIN_AGE_SECONDS")
	_ = viper.BindEnv("RECONCILE_ALERT_AGE_HOURS")
	_ = viper.BindEnv("RECONCILE_BATCH_SIZE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("WALLET_SERVICE_INTERNAL_API_KEY"))
	}
	config.GroupServiceInternalAPIKey = strings.TrimSpace(config.GroupServiceInternalAPIKey)
	if config.GroupServiceInternalAPIKey == "" {
		config.GroupServiceInternalAPIKey = config.InternalAPIKey
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = defaultRateLimitPrefix
	}
	config.ProcessorBaseURL = strings.TrimSpace(config.ProcessorBaseURL)
	config.DefaultCurrency = strings.ToUpper(strings.TrimSpace(config.DefaultCurrency))
	if len(config.DefaultCurrency) != 3 {
		log.Printf("level=warn component=config msg=\"invalid DEFAULT_CURRENCY; using default\" value=%q", config.DefaultCurrency)
		config.DefaultCurrency = defaultCurrency
	}

	config.StoreDriver = strings.ToLower(strings.TrimSpace(config.StoreDriver))
	if config.StoreDriver != DriverPostgres && config.StoreDriver != DriverMemory {
		log.Printf("level=warn component=config msg=\"unknown STORE_DRIVER; using postgres\" value=%q", config.StoreDriver)
		config.StoreDriver = DriverPostgres
	}

	coerceNonNegative("MIN_DEPOSIT_CENTS", &config.MinDepositCents)
	coerceNonNegative("MAX_DEPOSIT_CENTS", &config.MaxDepositCents)
	coerceNonNegative("DAILY_DEPOSIT_LIMIT_CENTS", &config.DailyDepositLimitCents)
	coerceNonNegative("MIN_WITHDRAWAL_CENTS", &config.MinWithdrawalCents)
	coerceNonNegative("MAX_WITHDRAWAL_CENTS", &config.MaxWithdrawalCents)
	coerceNonNegative("MIN_TRANSFER_CENTS", &config.MinTransferCents)
	coerceNonNegative("MAX_TRANSFER_CENTS", &config.MaxTransferCents)
	coerceNonNegative("DAILY_TRANSFER_LIMIT_CENTS", &config.DailyTransferLimitCents)

	if config.ProcessorTimeoutSeconds <= 0 {
		config.ProcessorTimeoutSeconds = defaultProcessorTimeoutSecs
	}
	if config.MutationRateLimitPerMinute <= 0 {
		config.MutationRateLimitPerMinute = defaultMutationRatePerMin
	}
	if strings.TrimSpace(config.ReconcileSchedule) == "" {
		config.ReconcileSchedule = defaultReconcileSchedule
	}
	if config.ReconcileMinAgeSeconds <= 0 {
		config.ReconcileMinAgeSeconds = defaultReconcileMinAgeSecs
	}
	if config.ReconcileAlertAgeHours <= 0 {
		config.ReconcileAlertAgeHours = defaultReconcileAlertHours
	}
	if config.ReconcileBatchSize <= 0 {
		config.ReconcileBatchSize = defaultReconcileBatchSize
	}

	return
}

func coerceNonNegative(key string, value *int64) {
	if *value < 0 {
		log.Printf("level=warn component=config msg=\"negative limit configured; coercing to zero\" key=%s value=%d", key, *value)
		*value = 0
	}
}
