package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppPort       string
	AppMode       string
	LogMode       string
	DBHost        string
	DBUser        string
	DBPassword    string
	DBName        string
	DBPort        string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// InternalAPIToken guards the operational outbox routes. Empty disables them.
	InternalAPIToken string

	CheckoutRateLimit       int
	CheckoutRateLimitWindow time.Duration

	Outbox OutboxConfig
	Fees   FeeConfig
}

type OutboxConfig struct {
	BatchSize      int
	Interval       time.Duration
	MaxAttempts    int
	StaleLease     time.Duration
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	HandlerTimeout time.Duration
}

// FeeConfig holds the platform default fee policy. Organizations may override it.
type FeeConfig struct {
	DefaultBps          int64
	DefaultFixed        int64
	DefaultMode         string
	PolicyVersion       string
	SupportedCurrencies []string
}

func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		AppPort:       getEnv("APP_PORT", "8080"),
		AppMode:       getEnv("APP_MODE", "debug"),
		LogMode:       getEnv("LOG_MODE", "development"),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBUser:        getEnv("DB_USER", "postgres"),
		DBPassword:    getEnv("DB_PASSWORD", "postgres"),
		DBName:        getEnv("DB_NAME", "tenantflow"),
		DBPort:        getEnv("DB_PORT", "5432"),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		InternalAPIToken:        getEnv("INTERNAL_API_TOKEN", ""),
		CheckoutRateLimit:       getEnvAsInt("CHECKOUT_RATE_LIMIT", 30),
		CheckoutRateLimitWindow: time.Duration(getEnvAsInt("CHECKOUT_RATE_LIMIT_WINDOW_SEC", 60)) * time.Second,

		Outbox: OutboxConfig{
			BatchSize:      getEnvAsInt("OUTBOX_BATCH_SIZE", 50),
			Interval:       time.Duration(getEnvAsInt("OUTBOX_INTERVAL_SEC", 5)) * time.Second,
			MaxAttempts:    getEnvAsInt("OUTBOX_MAX_ATTEMPTS", 8),
			StaleLease:     time.Duration(getEnvAsInt("OUTBOX_STALE_LEASE_MIN", 15)) * time.Minute,
			BackoffBase:    time.Duration(getEnvAsInt("OUTBOX_BACKOFF_BASE_SEC", 30)) * time.Second,
			BackoffCap:     time.Duration(getEnvAsInt("OUTBOX_BACKOFF_CAP_SEC", 3600)) * time.Second,
			HandlerTimeout: time.Duration(getEnvAsInt("OUTBOX_HANDLER_TIMEOUT_SEC", 30)) * time.Second,
		},
		Fees: FeeConfig{
			DefaultBps:          int64(getEnvAsInt("FEE_DEFAULT_BPS", 500)),
			DefaultFixed:        int64(getEnvAsInt("FEE_DEFAULT_FIXED", 0)),
			DefaultMode:         getEnv("FEE_DEFAULT_MODE", "ADDED"),
			PolicyVersion:       getEnv("FEE_POLICY_VERSION", "2024-01"),
			SupportedCurrencies: getEnvAsList("SUPPORTED_CURRENCIES", []string{"USD", "EUR", "GBP", "MXN", "CAD"}),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsList(key string, fallback []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if p := strings.ToUpper(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
