package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr         string
	LogLevel     string
	RedisURL     string
	DatabaseURL  string
	OTLPEndpoint string
	AWSRegion    string

	// EncryptionKey encrypts provider credentials at rest. Required with
	// DatabaseURL.
	EncryptionKey string

	SQSRequestQueueURL  string
	SQSResponseQueueURL string
	WorkerConcurrency   int
	SNSTopicARN         string

	FailoverMaxAttempts    int
	AdapterCacheSize       int
	HealthFailureThreshold int
	HealthCooldown         time.Duration

	ShutdownTimeout time.Duration
}

// Load reads the configuration from the environment, after loading a .env
// file from the working directory if one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:                   getEnv("ADDR", ":8080"),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		RedisURL:               getEnv("REDIS_URL", ""),
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		OTLPEndpoint:           getEnv("OTLP_ENDPOINT", ""),
		AWSRegion:              getEnv("AWS_REGION", "us-east-1"),
		EncryptionKey:          getEnv("ENCRYPTION_KEY", ""),
		SQSRequestQueueURL:     getEnv("SQS_REQUEST_QUEUE_URL", ""),
		SQSResponseQueueURL:    getEnv("SQS_RESPONSE_QUEUE_URL", ""),
		WorkerConcurrency:      getIntEnv("WORKER_CONCURRENCY", 4),
		SNSTopicARN:            getEnv("SNS_TOPIC_ARN", ""),
		FailoverMaxAttempts:    getIntEnv("FAILOVER_MAX_ATTEMPTS", 3),
		AdapterCacheSize:       getIntEnv("ADAPTER_CACHE_SIZE", 50),
		HealthFailureThreshold: getIntEnv("HEALTH_FAILURE_THRESHOLD", 3),
		HealthCooldown:         getDurationEnv("HEALTH_COOLDOWN", 2*time.Minute),
		ShutdownTimeout:        getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.FailoverMaxAttempts < 1 {
		errs = append(errs, errors.New("FAILOVER_MAX_ATTEMPTS must be at least 1"))
	}
	if c.AdapterCacheSize < 1 {
		errs = append(errs, errors.New("ADAPTER_CACHE_SIZE must be at least 1"))
	}
	if c.HealthFailureThreshold < 1 {
		errs = append(errs, errors.New("HEALTH_FAILURE_THRESHOLD must be at least 1"))
	}
	if c.DatabaseURL != "" && c.EncryptionKey == "" {
		errs = append(errs, errors.New("ENCRYPTION_KEY is required when DATABASE_URL is set"))
	}
	if (c.SQSRequestQueueURL == "") != (c.SQSResponseQueueURL == "") {
		errs = append(errs, errors.New("SQS_REQUEST_QUEUE_URL and SQS_RESPONSE_QUEUE_URL must be set together"))
	}
	return errors.Join(errs...)
}

// QueueEnabled reports whether the async job worker should run.
func (c *Config) QueueEnabled() bool {
	return c.SQSRequestQueueURL != "" && c.SQSResponseQueueURL != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getDurationEnv accepts a Go duration ("90s", "2m") or a bare number of
// seconds.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return defaultValue
}
