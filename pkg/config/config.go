package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Processor ProcessorConfig
	Scheduler SchedulerConfig

	// PolicyPath points at the YAML firm policy file. Empty means
	// defaults for every firm.
	PolicyPath string

	LogLevel string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	URL         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds the Redis connection used for webhook event
// deduplication. URL empty disables Redis; dedup falls back to the
// in-process LRU.
type RedisConfig struct {
	URL      string
	Password string
	DB       int
	DedupTTL time.Duration
}

// ProcessorConfig holds the payment processor boundary configuration.
type ProcessorConfig struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
}

// SchedulerConfig holds the cron schedules for the batch entry points.
type SchedulerConfig struct {
	PackageInvoiceSchedule string
	AutopaySchedule        string
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("BILLCORE_HOST", "0.0.0.0"),
			Port:            getEnv("BILLCORE_PORT", "8080"),
			ReadTimeout:     getEnvDuration("BILLCORE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("BILLCORE_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("BILLCORE_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("BILLCORE_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL:         getEnv("BILLCORE_POSTGRES_URL", ""),
			MaxConns:    getEnvInt("BILLCORE_POSTGRES_MAX_CONNS", 20),
			MinConns:    getEnvInt("BILLCORE_POSTGRES_MIN_CONNS", 2),
			Timeout:     getEnvDuration("BILLCORE_POSTGRES_TIMEOUT", 5*time.Second),
			MaxLifetime: getEnvDuration("BILLCORE_POSTGRES_MAX_LIFETIME", time.Hour),
		},
		Redis: RedisConfig{
			URL:      getEnv("BILLCORE_REDIS_URL", ""),
			Password: getEnv("BILLCORE_REDIS_PASSWORD", ""),
			DB:       getEnvInt("BILLCORE_REDIS_DB", 0),
			DedupTTL: getEnvDuration("BILLCORE_REDIS_DEDUP_TTL", 72*time.Hour),
		},
		Processor: ProcessorConfig{
			BaseURL:       getEnv("BILLCORE_PROCESSOR_URL", ""),
			APIKey:        getEnv("BILLCORE_PROCESSOR_API_KEY", ""),
			WebhookSecret: getEnv("BILLCORE_PROCESSOR_WEBHOOK_SECRET", ""),
			Timeout:       getEnvDuration("BILLCORE_PROCESSOR_TIMEOUT", 10*time.Second),
		},
		Scheduler: SchedulerConfig{
			// Package invoicing daily at 00:10 UTC, autopay hourly.
			PackageInvoiceSchedule: getEnv("BILLCORE_PACKAGE_INVOICE_SCHEDULE", "10 0 * * *"),
			AutopaySchedule:        getEnv("BILLCORE_AUTOPAY_SCHEDULE", "0 * * * *"),
		},
		PolicyPath: getEnv("BILLCORE_POLICY_FILE", ""),
		LogLevel:   getEnv("BILLCORE_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Processor.BaseURL != "" && c.Processor.APIKey == "" {
		return fmt.Errorf("processor API key is required when a processor URL is set")
	}
	if c.Processor.WebhookSecret == "" {
		return fmt.Errorf("processor webhook secret is required")
	}
	return nil
}

// getEnv returns an environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
