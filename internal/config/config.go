package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the core runtime configuration for the service.
// Values are primarily sourced from environment variables, with
// sensible defaults where appropriate. See .env.example.
type Config struct {
	ListenAddr string

	DatabaseURL string

	// IngestToken authenticates producers on /v1/ingest and /v1/handshake.
	IngestToken string

	// CallbackToken authenticates detection modules on the /v1/callbacks/*
	// endpoints. Distinct from IngestToken so a leaked producer token
	// cannot forge findings.
	CallbackToken string

	AdminUser     string
	AdminPassword string

	// Raw batch object store (S3).
	RawBucket   string
	AWSRegion   string
	S3Retries   int
	S3Timeout   time.Duration
	S3KeyPrefix string

	// MaxBatchBytes caps the decompressed size of one ingested batch.
	MaxBatchBytes int64

	DispatchTimeout  time.Duration
	DispatchWorkers  int
	DispatchQueueCap int

	// UnhealthyThreshold is the number of consecutive dispatch failures
	// after which a module subscription is skipped until a health check
	// succeeds again.
	UnhealthyThreshold int

	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration

	// DispatchRetentionDays bounds the dispatch audit table. Raw batches
	// in the object store are unaffected.
	DispatchRetentionDays int
}

// Load reads configuration from environment variables and applies defaults.
func Load() *Config {
	cfg := &Config{
		ListenAddr:    getenv("APP_LISTEN_ADDR", ":8080"),
		DatabaseURL:   os.Getenv("APP_DATABASE_URL"),
		IngestToken:   os.Getenv("APP_INGEST_TOKEN"),
		CallbackToken: os.Getenv("APP_CALLBACK_TOKEN"),
		AdminUser:     getenv("APP_ADMIN_USER", "admin"),
		AdminPassword: getenv("APP_ADMIN_PASSWORD", "changeme"),

		RawBucket:   os.Getenv("APP_RAW_BUCKET"),
		AWSRegion:   getenv("APP_AWS_REGION", "us-east-1"),
		S3Retries:   getint("APP_S3_RETRIES", 3),
		S3Timeout:   getdur("APP_S3_TIMEOUT", 5*time.Second),
		S3KeyPrefix: getenv("APP_S3_KEY_PREFIX", "raw"),

		MaxBatchBytes: int64(getint("APP_MAX_BATCH_BYTES", 8<<20)),

		DispatchTimeout:  getdur("APP_DISPATCH_TIMEOUT", 10*time.Second),
		DispatchWorkers:  getint("APP_DISPATCH_WORKERS", 4),
		DispatchQueueCap: getint("APP_DISPATCH_QUEUE_CAP", 1024),

		UnhealthyThreshold: getint("APP_UNHEALTHY_THRESHOLD", 3),

		HealthCheckInterval: getdur("APP_HEALTHCHECK_INTERVAL", 30*time.Second),
		HealthCheckTimeout:  getdur("APP_HEALTHCHECK_TIMEOUT", 3*time.Second),

		DispatchRetentionDays: getint("APP_DISPATCH_RETENTION_DAYS", 14),
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func getdur(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
