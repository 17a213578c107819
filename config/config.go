package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration, read from the environment.
type Config struct {
	DatabaseURL string
	DBMaxConns  int32

	HTTPPort      string
	JWTSecret     string
	TokenTTL      time.Duration
	ReceiptSecret string

	LogLevel  string
	LogFormat string
	LogFile   string

	WorkerID         string
	DrainBatchSize   int
	DrainConcurrency int
	StaleClaimAfter  time.Duration
	SendHour         int
	DefaultTimezone  string

	Transport         string
	TransportRetryMax int
	ResendAPIKey      string
	FromEmail         string

	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseSSL    bool
}

// Transports understood by the message sender factory.
const (
	TransportLog    = "log"
	TransportResend = "resend"
)

// Load reads an optional .env file (or the given files) and then the environment.
// A missing .env file is not an error.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	cfg := &Config{
		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBMaxConns:  int32(getIntEnv("DB_MAX_CONNS", 10)),

		HTTPPort:      getEnv("HTTP_PORT", "8080"),
		JWTSecret:     getEnv("JWT_SECRET", ""),
		TokenTTL:      getDurationEnv("TOKEN_TTL", 24*time.Hour),
		ReceiptSecret: getEnv("RECEIPT_SECRET", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
		LogFile:   getEnv("LOG_FILE", ""),

		WorkerID:         getEnv("WORKER_ID", ""),
		DrainBatchSize:   getIntEnv("DRAIN_BATCH_SIZE", 50),
		DrainConcurrency: getIntEnv("DRAIN_CONCURRENCY", 1),
		StaleClaimAfter:  getDurationEnv("STALE_CLAIM_AFTER", 30*time.Minute),
		SendHour:         getIntEnv("SEND_HOUR", 9),
		DefaultTimezone:  getEnv("DEFAULT_TIMEZONE", "Asia/Kolkata"),

		Transport:         strings.ToLower(getEnv("TRANSPORT", TransportLog)),
		TransportRetryMax: getIntEnv("TRANSPORT_RETRY_MAX", 3),
		ResendAPIKey:      getEnv("RESEND_API_KEY", ""),
		FromEmail:         getEnv("FROM_EMAIL", "reminders@example.com"),

		MinIOEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey: getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinIOSecretKey: getEnv("MINIO_SECRET_KEY", "minioadmin"),
		MinIOBucket:    getEnv("MINIO_BUCKET", "filing-proofs"),
		MinIOUseSSL:    getBoolEnv("MINIO_USE_SSL", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Transport == TransportResend && c.ResendAPIKey == "" {
		missing = append(missing, "RESEND_API_KEY")
	}

	var errs []error
	if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("config: missing required environment variables: %s", strings.Join(missing, ", ")))
	}
	if c.SendHour < 0 || c.SendHour > 23 {
		errs = append(errs, fmt.Errorf("config: SEND_HOUR must be within 0-23, got %d", c.SendHour))
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		errs = append(errs, fmt.Errorf("config: DEFAULT_TIMEZONE %q: %w", c.DefaultTimezone, err))
	}
	if c.DrainBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("config: DRAIN_BATCH_SIZE must be positive"))
	}
	if c.DrainConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("config: DRAIN_CONCURRENCY must be positive"))
	}
	if c.StaleClaimAfter <= 0 {
		errs = append(errs, fmt.Errorf("config: STALE_CLAIM_AFTER must be positive"))
	}
	switch c.Transport {
	case TransportLog, TransportResend:
	default:
		errs = append(errs, fmt.Errorf("config: unknown TRANSPORT %q", c.Transport))
	}
	return errors.Join(errs...)
}

// ProofStorageEnabled reports whether MinIO settings are present.
func (c *Config) ProofStorageEnabled() bool {
	return c.MinIOEndpoint != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
