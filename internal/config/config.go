// Package config provides configuration management for the invoice sync service.
// It loads configuration from environment variables and .env files.
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

// Storage backends
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Platform PlatformConfig
	Ledger   LedgerConfig
	Sync     SyncConfig
	Import   ImportConfig
	Logging  LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RateLimitRPS    float64 // per company
	RateLimitBurst  int
	WebhookSecret   string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Backend        string // postgres or memory
	Postgres       PostgresConfig
	Redis          RedisConfig
	MigrationsPath string
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	SSLMode        string
	MaxConnections int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled        bool
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// PlatformConfig holds the e-invoice platform client configuration
type PlatformConfig struct {
	BaseURL          string
	APIKey           string
	Timeout          time.Duration
	RequestsPerSec   float64
	PageSize         int
	BreakerThreshold int
	BreakerTimeout   time.Duration
	BudgetPerSecond  int // requests per second shared by all processes through Redis (0: off)
	BudgetReserved   int // part of the budget kept for user actions
}

// LedgerConfig holds the accounting ledger client configuration
type LedgerConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// SyncConfig holds sync job and scheduler configuration
type SyncConfig struct {
	YearsBack         int           // default backfill depth (default: 3)
	MaxAttempts       int           // transient failures tolerated per month (default: 3)
	RetryInitialDelay time.Duration // first backoff after a transient failure
	RetryMaxDelay     time.Duration
	RetryMultiplier   float64
	TickInterval      time.Duration // scheduler poll interval
	Workers           int           // concurrent ticks per poll
	LockTTL           time.Duration
}

// ImportConfig holds file import configuration
type ImportConfig struct {
	CSVChunkSize int // rows per chunk (default: 10000)
	MaxXMLBytes  int64
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			RateLimitRPS:    getEnvAsFloat("SERVER_RATE_LIMIT_RPS", 10),
			RateLimitBurst:  getEnvAsInt("SERVER_RATE_LIMIT_BURST", 20),
			WebhookSecret:   getEnv("PLATFORM_WEBHOOK_SECRET", ""),
		},
		Database: DatabaseConfig{
			Backend: strings.ToLower(getEnv("STORAGE_BACKEND", StoragePostgres)),
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "invoice_sync"),
				User:           getEnv("POSTGRES_USER", "invoice_sync"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				SSLMode:        getEnv("POSTGRES_SSLMODE", "disable"),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 25),
			},
			Redis: RedisConfig{
				Enabled:        getEnvAsBool("REDIS_ENABLED", true),
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
			MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations/postgres"),
		},
		Platform: PlatformConfig{
			BaseURL:          getEnv("PLATFORM_BASE_URL", ""),
			APIKey:           getEnv("PLATFORM_API_KEY", ""),
			Timeout:          getEnvAsDuration("PLATFORM_TIMEOUT", 30*time.Second),
			RequestsPerSec:   getEnvAsFloat("PLATFORM_RPS", 5),
			PageSize:         getEnvAsInt("PLATFORM_PAGE_SIZE", 100),
			BreakerThreshold: getEnvAsInt("PLATFORM_BREAKER_THRESHOLD", 5),
			BreakerTimeout:   getEnvAsDuration("PLATFORM_BREAKER_TIMEOUT", time.Minute),
			BudgetPerSecond:  getEnvAsInt("PLATFORM_BUDGET_PER_SEC", 0),
			BudgetReserved:   getEnvAsInt("PLATFORM_BUDGET_RESERVED", 0),
		},
		Ledger: LedgerConfig{
			BaseURL: getEnv("LEDGER_BASE_URL", ""),
			APIKey:  getEnv("LEDGER_API_KEY", ""),
			Timeout: getEnvAsDuration("LEDGER_TIMEOUT", 30*time.Second),
		},
		Sync: SyncConfig{
			YearsBack:         getEnvAsInt("SYNC_YEARS_BACK", 3),
			MaxAttempts:       getEnvAsInt("SYNC_MAX_ATTEMPTS", 3),
			RetryInitialDelay: getEnvAsDuration("SYNC_RETRY_INITIAL_DELAY", 30*time.Second),
			RetryMaxDelay:     getEnvAsDuration("SYNC_RETRY_MAX_DELAY", 10*time.Minute),
			RetryMultiplier:   getEnvAsFloat("SYNC_RETRY_MULTIPLIER", 2),
			TickInterval:      getEnvAsDuration("SYNC_TICK_INTERVAL", 5*time.Second),
			Workers:           getEnvAsInt("SYNC_WORKERS", 4),
			LockTTL:           getEnvAsDuration("SYNC_LOCK_TTL", 2*time.Minute),
		},
		Import: ImportConfig{
			CSVChunkSize: getEnvAsInt("IMPORT_CSV_CHUNK_SIZE", 10000),
			MaxXMLBytes:  int64(getEnvAsInt("IMPORT_MAX_XML_BYTES", 10<<20)),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var errs []error
	if c.Database.Backend != StoragePostgres && c.Database.Backend != StorageMemory {
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND must be %q or %q, got %q", StoragePostgres, StorageMemory, c.Database.Backend))
	}
	if c.Sync.YearsBack < 1 {
		errs = append(errs, errors.New("SYNC_YEARS_BACK must be at least 1"))
	}
	if c.Sync.MaxAttempts < 1 {
		errs = append(errs, errors.New("SYNC_MAX_ATTEMPTS must be at least 1"))
	}
	if c.Sync.Workers < 1 {
		errs = append(errs, errors.New("SYNC_WORKERS must be at least 1"))
	}
	if c.Sync.RetryMultiplier < 1 {
		errs = append(errs, errors.New("SYNC_RETRY_MULTIPLIER must be at least 1"))
	}
	if c.Import.CSVChunkSize < 1 {
		errs = append(errs, errors.New("IMPORT_CSV_CHUNK_SIZE must be at least 1"))
	}
	if c.Platform.RequestsPerSec <= 0 {
		errs = append(errs, errors.New("PLATFORM_RPS must be positive"))
	}
	if c.Platform.BudgetPerSecond < 0 || c.Platform.BudgetReserved < 0 {
		errs = append(errs, errors.New("PLATFORM_BUDGET_PER_SEC and PLATFORM_BUDGET_RESERVED cannot be negative"))
	} else if c.Platform.BudgetPerSecond > 0 && c.Platform.BudgetReserved > c.Platform.BudgetPerSecond {
		errs = append(errs, errors.New("PLATFORM_BUDGET_RESERVED cannot exceed PLATFORM_BUDGET_PER_SEC"))
	}
	return errors.Join(errs...)
}

// PostgresDSN builds a connection string for pgx and golang-migrate
func (c PostgresConfig) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
