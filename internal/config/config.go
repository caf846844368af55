package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the badge worker
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Engine   EngineConfig
	Logging  LoggingConfig
}

// ServerConfig holds the health/read endpoint configuration
type ServerConfig struct {
	Port            string
	Host            string
	Environment     string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	GracefulTimeout time.Duration
}

// DatabaseConfig holds Postgres configuration
type DatabaseConfig struct {
	URL                string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetime    time.Duration
	ConnMaxIdleTime    time.Duration
	ConnectTimeout     time.Duration
	ConnectMaxElapsed  time.Duration
	SlowQueryThreshold time.Duration
	MigrationsPath     string
	RunMigrations      bool
}

// RedisConfig holds the catalog cache configuration
type RedisConfig struct {
	URL        string
	DB         int
	Password   string
	PoolSize   int
	CatalogTTL time.Duration
	Enabled    bool
}

// EngineConfig tunes the badge evaluation engine
type EngineConfig struct {
	// Event bus
	QueueBufferSize int
	WorkerCount     int

	// Per-template evaluation
	TemplateConcurrency int
	TemplateTimeout     time.Duration

	// History windows
	MaxStreakDays int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables, with .env support
// for local development.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "9090"),
			Host:            getEnv("HOST", "0.0.0.0"),
			Environment:     getEnv("ENVIRONMENT", "development"),
			ReadTimeout:     getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:     getDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			GracefulTimeout: getDuration("SERVER_GRACEFUL_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			MaxOpenConns:       getInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:       getInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime:    getDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime:    getDuration("DB_CONN_MAX_IDLE_TIME", 10*time.Minute),
			ConnectTimeout:     getDuration("DB_CONNECT_TIMEOUT", 10*time.Second),
			ConnectMaxElapsed:  getDuration("DB_CONNECT_MAX_ELAPSED", 2*time.Minute),
			SlowQueryThreshold: getDuration("DB_SLOW_QUERY_THRESHOLD", 100*time.Millisecond),
			MigrationsPath:     getEnv("DB_MIGRATIONS_PATH", "migrations"),
			RunMigrations:      getBool("DB_RUN_MIGRATIONS", true),
		},
		Redis: RedisConfig{
			URL:        getEnv("REDIS_URL", "localhost:6379"),
			DB:         getInt("REDIS_DB", 0),
			Password:   getEnv("REDIS_PASSWORD", ""),
			PoolSize:   getInt("REDIS_POOL_SIZE", 10),
			CatalogTTL: getDuration("CATALOG_CACHE_TTL", 10*time.Minute),
			Enabled:    getBool("REDIS_ENABLED", true),
		},
		Engine: EngineConfig{
			QueueBufferSize:     getInt("ENGINE_QUEUE_BUFFER", 1000),
			WorkerCount:         getInt("ENGINE_WORKERS", 5),
			TemplateConcurrency: getInt("ENGINE_TEMPLATE_CONCURRENCY", 8),
			TemplateTimeout:     getDuration("ENGINE_TEMPLATE_TIMEOUT", 10*time.Second),
			MaxStreakDays:       getInt("ENGINE_MAX_STREAK_DAYS", 365),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks required configuration values
func (c *Config) Validate() error {
	var errs []string

	if c.Database.URL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if c.Engine.WorkerCount < 1 {
		errs = append(errs, "ENGINE_WORKERS must be at least 1")
	}
	if c.Engine.TemplateConcurrency < 1 {
		errs = append(errs, "ENGINE_TEMPLATE_CONCURRENCY must be at least 1")
	}
	if c.Engine.TemplateTimeout <= 0 {
		errs = append(errs, "ENGINE_TEMPLATE_TIMEOUT must be positive")
	}
	if c.Engine.MaxStreakDays < 1 {
		errs = append(errs, "ENGINE_MAX_STREAK_DAYS must be at least 1")
	}

	switch c.Server.Environment {
	case "development", "staging", "production", "test":
	default:
		errs = append(errs, fmt.Sprintf("unknown ENVIRONMENT %q", c.Server.Environment))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("unknown LOG_LEVEL %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("unknown LOG_FORMAT %q", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// IsProduction reports whether the worker runs in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// ===============================
// ENV HELPERS
// ===============================

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
