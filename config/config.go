package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every environment-driven knob for the projector process.
type Config struct {
	// Queue
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	QueueName     string

	// Store
	DatabaseURL string

	// Scheduler
	BatchSize          int
	WorkerConcurrency  int
	MaxRetries         int
	DeadlockRetryLimit int
	IdleSleep          time.Duration
	ErrorSleep         time.Duration

	// Identity cache
	UserCacheTTL time.Duration

	// Store transaction
	TransactionTimeout time.Duration

	// Admin HTTP surface
	HTTPPort      string
	StatsInterval time.Duration
	LogLevel      string
}

// Load reads configuration from the environment, falling back to a local
// .env file when present.
func Load() *Config {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("Using environment variables directly")
	}

	return &Config{
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		QueueName:     getEnv("QUEUE_NAME", "transactions"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		BatchSize:          getEnvInt("BATCH_SIZE", 10000),
		WorkerConcurrency:  getEnvInt("WORKER_CONCURRENCY", 8),
		MaxRetries:         getEnvInt("MAX_RETRIES", 3),
		DeadlockRetryLimit: getEnvInt("DEADLOCK_RETRY_LIMIT", 5),
		IdleSleep:          time.Duration(getEnvInt("IDLE_SLEEP_MS", 50)) * time.Millisecond,
		ErrorSleep:         time.Duration(getEnvInt("ERROR_SLEEP_MS", 200)) * time.Millisecond,

		UserCacheTTL: time.Duration(getEnvInt("USER_CACHE_TTL_SECONDS", 30)) * time.Second,

		TransactionTimeout: time.Duration(getEnvInt("TRANSACTION_TIMEOUT_SECONDS", 60)) * time.Second,

		HTTPPort:      getEnv("HTTP_PORT", "8090"),
		StatsInterval: time.Duration(getEnvInt("STATS_INTERVAL_SECONDS", 3)) * time.Second,
		LogLevel:      getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultValue string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}
