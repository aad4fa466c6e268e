package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// CacheBackend selects the cache store: redis, dynamodb or memory.
	CacheBackend        string
	CacheTable          string
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	AdapterCallTimeout       time.Duration
	SearchSplitDays          int
	PatientCacheTTL          time.Duration
	PatientSchedulesCacheTTL time.Duration
	IntegrationsFile         string
	FlowRulesFile            string

	// Nextech EMR Configuration
	NextechBaseURL      string
	NextechClientID     string
	NextechClientSecret string

	// Shadow Scheduler Configuration
	ShadowSyncEnabled    bool
	ShadowSyncInterval   time.Duration
	ShadowSyncWindowDays int

	// Operator API
	OperatorJWTSecret   string
	EntitySyncPerMinute int
}

// Load reads configuration from environment variables. A local .env file is
// loaded first when present; real environment variables win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		CacheBackend:        strings.ToLower(strings.TrimSpace(getEnv("CACHE_BACKEND", "redis"))),
		CacheTable:          getEnv("CACHE_TABLE", "scheduling_cache"),
		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		AdapterCallTimeout:       getEnvAsDuration("ADAPTER_CALL_TIMEOUT", 20*time.Second),
		SearchSplitDays:          getEnvAsInt("SEARCH_SPLIT_DAYS", 30),
		PatientCacheTTL:          getEnvAsDuration("PATIENT_CACHE_TTL", 30*time.Minute),
		PatientSchedulesCacheTTL: getEnvAsDuration("PATIENT_SCHEDULES_CACHE_TTL", 10*time.Minute),
		IntegrationsFile:         getEnv("INTEGRATIONS_FILE", ""),
		FlowRulesFile:            getEnv("FLOW_RULES_FILE", ""),

		// Nextech EMR Configuration
		NextechBaseURL:      getEnv("NEXTECH_BASE_URL", ""),
		NextechClientID:     getEnv("NEXTECH_CLIENT_ID", ""),
		NextechClientSecret: getEnv("NEXTECH_CLIENT_SECRET", ""),

		// Shadow Scheduler Configuration
		ShadowSyncEnabled:    getEnvAsBool("SHADOW_SYNC_ENABLED", false),
		ShadowSyncInterval:   getEnvAsDuration("SHADOW_SYNC_INTERVAL", 30*time.Minute),
		ShadowSyncWindowDays: getEnvAsInt("SHADOW_SYNC_WINDOW_DAYS", 7),

		// Operator API
		OperatorJWTSecret:   getEnv("OPERATOR_JWT_SECRET", ""),
		EntitySyncPerMinute: getEnvAsInt("ENTITY_SYNC_PER_MINUTE", 2),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
