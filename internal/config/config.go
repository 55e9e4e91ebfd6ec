// Package config provides configuration loading and management for the application.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Store backends
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config holds all application configuration
type Config struct {
	// HTTP server port
	Port string

	// Per-request timeout for callable endpoints
	RequestTimeout time.Duration

	// Document store selection and Redis connection
	StoreBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Price oracle
	PriceAPIURL   string
	PriceAPIKey   string
	PriceRetryMax int

	// Portfolio analytics cache
	CacheTTL      time.Duration
	CacheCoalesce bool

	// Chain registry
	NetworksFile string
	AlchemyKey   string

	// Telegram bot
	BotToken       string
	ChatID         string
	TelegramAPIURL string
	TelegramRPS    float64

	// Shared secrets for inbound calls; empty disables the check
	WebhookSecret string
	HookToken     string

	// In-process scheduling of the periodic jobs
	EnableScheduler bool
	VerifyInterval  time.Duration
	SweepInterval   time.Duration
	CleanupInterval time.Duration
	StaleTxAge      time.Duration

	// Callable endpoint rate limiting
	RateLimitRPS   float64
	RateLimitBurst int

	// Circuit breaker around outbound integrations
	BreakerFailures int
	BreakerCooldown time.Duration

	// OpenTelemetry endpoint for observability
	OtelEndpoint string
}

// Load creates a new Config from environment variables, reading a .env file first when present
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.Warnf("Failed to load .env file: %v", err)
	}

	return Config{
		Port:            GetEnvOrDefault("PORT", "8080"),
		RequestTimeout:  GetEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second),
		StoreBackend:    strings.ToLower(GetEnvOrDefault("STORE_BACKEND", StoreMemory)),
		RedisAddr:       GetEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   GetEnvOrDefault("REDIS_PASSWORD", ""),
		RedisDB:         GetEnvAsInt("REDIS_DB", 0),
		PriceAPIURL:     GetEnvOrDefault("PRICE_API_URL", "https://api.coingecko.com/api/v3/simple/price"),
		PriceAPIKey:     GetEnvOrDefault("PRICE_API_KEY", ""),
		PriceRetryMax:   GetEnvAsInt("PRICE_RETRY_MAX", 0),
		CacheTTL:        GetEnvAsDuration("PORTFOLIO_CACHE_TTL", 15*time.Minute),
		CacheCoalesce:   GetEnvAsBool("PORTFOLIO_CACHE_COALESCE", true),
		NetworksFile:    GetEnvOrDefault("NETWORKS_FILE", ""),
		AlchemyKey:      GetEnvOrDefault("ALCHEMY_KEY", ""),
		BotToken:        GetEnvOrDefault("BOT_TOKEN", ""),
		ChatID:          GetEnvOrDefault("CHAT_ID", ""),
		TelegramAPIURL:  GetEnvOrDefault("TELEGRAM_API_URL", "https://api.telegram.org"),
		TelegramRPS:     GetEnvAsFloat("TELEGRAM_RPS", 25),
		WebhookSecret:   GetEnvOrDefault("TELEGRAM_WEBHOOK_SECRET", ""),
		HookToken:       GetEnvOrDefault("HOOK_TOKEN", ""),
		EnableScheduler: GetEnvAsBool("ENABLE_SCHEDULER", false),
		VerifyInterval:  GetEnvAsDuration("VERIFY_INTERVAL", 5*time.Minute),
		SweepInterval:   GetEnvAsDuration("SWEEP_INTERVAL", 24*time.Hour),
		CleanupInterval: GetEnvAsDuration("CLEANUP_INTERVAL", 24*time.Hour),
		StaleTxAge:      GetEnvAsDuration("STALE_TX_AGE", 7*24*time.Hour),
		RateLimitRPS:    GetEnvAsFloat("RATE_LIMIT_RPS", 10.0),
		RateLimitBurst:  GetEnvAsInt("RATE_LIMIT_BURST", 20),
		BreakerFailures: GetEnvAsInt("BREAKER_FAILURES", 5),
		BreakerCooldown: GetEnvAsDuration("BREAKER_COOLDOWN", time.Minute),
		OtelEndpoint:    GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
}

// GetEnv retrieves an environment variable and whether it exists
func GetEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	return value, exists
}

// GetEnvOrDefault retrieves an environment variable or returns the default value if not set
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		logrus.Warnf("Invalid integer in %s, using default: %v", key, defaultValue)
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default value
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
		logrus.Warnf("Invalid float in %s, using default: %v", key, defaultValue)
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		logrus.Warnf("Invalid duration in %s, using default: %v", key, defaultValue)
	}
	return defaultValue
}

// GetEnvAsBool retrieves an environment variable as a boolean with a default value
func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := GetEnv(key); exists {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
		logrus.Warnf("Invalid boolean in %s, using default: %v", key, defaultValue)
	}
	return defaultValue
}
