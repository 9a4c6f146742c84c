package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the listing change-detection engine.
type Config struct {
	Redis    RedisConfig
	MongoDB  MongoDBConfig
	Store    StoreConfig
	Scheduler SchedulerConfig
	Dispatcher DispatcherConfig
	Webhook  WebhookConfig
	Admin    AdminConfig
	LogLevel string
	DevMode  bool
}

// RedisConfig holds Redis connection configuration (cache + rate limiter counters).
type RedisConfig struct {
	Host string
	Port int
}

// MongoDBConfig holds MongoDB connection configuration.
type MongoDBConfig struct {
	URI      string
	Database string
}

// StoreConfig holds the durable-store tunables, including the write-ahead
// journal fallback path used when Mongo has no replica set.
type StoreConfig struct {
	JournalDir string
}

// SchedulerConfig holds poll-scheduling tunables.
type SchedulerConfig struct {
	MaxConcurrentPolls int
	PollInterval       time.Duration
	ReconcileInterval  time.Duration
	WatchdogInterval   time.Duration
	WatchdogCeiling    time.Duration
	DrainDeadline      time.Duration
	RequestTimeout     time.Duration
	PollDeadline       time.Duration
	PeakHourStart      int
	PeakHourEnd        int
}

// DispatcherConfig holds outbox-drain tunables.
type DispatcherConfig struct {
	ProcessingInterval time.Duration
	BatchSize          int
	LeaseDuration      time.Duration
	MaxRetries         int
	DeliveryTimeout    time.Duration
	Shards             int
}

// WebhookConfig holds the shared HMAC signing secret for outbound webhooks.
type WebhookConfig struct {
	Secret string
}

// AdminConfig is reserved for the external admin-surface process; the core
// does not listen on this port itself.
type AdminConfig struct {
	Port int
}

// Load loads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Redis: RedisConfig{
			Host: getEnv("REDIS_HOST", "localhost"),
			Port: getEnvInt("REDIS_PORT", 6379),
		},
		MongoDB: MongoDBConfig{
			URI:      getEnv("MONGODB_URI", "mongodb://localhost:27017/?replicaSet=rs0&directConnection=true"),
			Database: getEnv("MONGODB_DATABASE", "listingwatch"),
		},
		Store: StoreConfig{
			JournalDir: getEnv("STORE_PATH", "./data/journal"),
		},
		Scheduler: SchedulerConfig{
			MaxConcurrentPolls: getEnvInt("MAX_CONCURRENT_POLLS", 10),
			PollInterval:       getEnvDuration("POLL_INTERVAL_MS_DURATION", 0),
			ReconcileInterval:  getEnvDuration("RECONCILE_INTERVAL", 24*time.Hour),
			WatchdogInterval:   getEnvDuration("WATCHDOG_INTERVAL", 30*time.Second),
			WatchdogCeiling:    getEnvDuration("WATCHDOG_CEILING", 5*time.Minute),
			DrainDeadline:      getEnvDuration("DRAIN_DEADLINE", 30*time.Second),
			RequestTimeout:     getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
			PollDeadline:       getEnvDuration("POLL_DEADLINE", 2*time.Minute),
			PeakHourStart:      getEnvInt("PEAK_HOUR_START", 8),
			PeakHourEnd:        getEnvInt("PEAK_HOUR_END", 20),
		},
		Dispatcher: DispatcherConfig{
			ProcessingInterval: getEnvDuration("DISPATCH_PROCESSING_INTERVAL", 2*time.Second),
			BatchSize:          getEnvInt("DISPATCH_BATCH_SIZE", 100),
			LeaseDuration:      getEnvDuration("DISPATCH_LEASE_DURATION", 60*time.Second),
			MaxRetries:         getEnvInt("DISPATCH_MAX_RETRIES", 5),
			DeliveryTimeout:    getEnvDuration("DISPATCH_DELIVERY_TIMEOUT", 15*time.Second),
			Shards:             getEnvInt("DISPATCH_SHARDS", 16),
		},
		Webhook: WebhookConfig{
			Secret: getEnv("WEBHOOK_SECRET", ""),
		},
		Admin: AdminConfig{
			Port: getEnvInt("ADMIN_PORT", 8080),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvBool("LISTINGWATCH_DEV", false),
	}

	pollIntervalMs := getEnvInt("POLL_INTERVAL_MS", 1000)
	if cfg.Scheduler.PollInterval == 0 {
		cfg.Scheduler.PollInterval = time.Duration(pollIntervalMs) * time.Millisecond
	}

	return cfg, nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, ok := os.LookupEnv(key); ok {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.Split(value, ",")
	}
	return defaultValue
}
