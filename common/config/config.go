package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service    ServiceConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	OpenAI     OpenAIConfig
	Generation GenerationConfig
	Storage    StorageConfig
	Review     ReviewConfig
	Cache      CacheConfig
	Telemetry  TelemetryConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings (object store + event stream)
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// OpenAIConfig holds generative provider settings
type OpenAIConfig struct {
	APIKey         string
	ImageModel     string
	CopyModel      string
	ImageSize      string
	RequestTimeout time.Duration
}

// GenerationConfig holds lifecycle retry policy
type GenerationConfig struct {
	// Total attempts for the copy stage before giving up.
	// The image stage is never retried here.
	MaxCopyAttempts int

	// Attempts for the metadata finalize write after a successful promote.
	FinalizeAttempts int
	FinalizeInterval time.Duration
}

// StorageConfig holds asset store settings
type StorageConfig struct {
	// "redis" for deployments, "memory" for local development
	Backend string

	// Retention of un-committed assets in the temporary namespace.
	// Expiry doubles as garbage collection for orphaned temp objects.
	TempTTL time.Duration
}

// ReviewConfig holds reviewer-facing policy settings
type ReviewConfig struct {
	// JSON array of {"name": ..., "expression": ...} CEL rules.
	// Empty means built-in defaults.
	RulesJSON string
}

// CacheConfig holds record cache settings
type CacheConfig struct {
	Enabled    bool
	DefaultTTL time.Duration
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof bool
	PprofPort   int
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"), // Default to text for development
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "adstudio"),
			User:        getEnv("POSTGRES_USER", "adstudio"),
			Password:    getEnv("POSTGRES_PASSWORD", "adstudio"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 50),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 10),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		OpenAI: OpenAIConfig{
			APIKey:         getEnv("OPENAI_API_KEY", ""),
			ImageModel:     getEnv("OPENAI_IMAGE_MODEL", "dall-e-3"),
			CopyModel:      getEnv("OPENAI_COPY_MODEL", "gpt-4o"),
			ImageSize:      getEnv("OPENAI_IMAGE_SIZE", "1024x1024"),
			RequestTimeout: getEnvDuration("OPENAI_REQUEST_TIMEOUT", 60*time.Second),
		},
		Generation: GenerationConfig{
			MaxCopyAttempts:  getEnvInt("GENERATION_MAX_COPY_ATTEMPTS", 3),
			FinalizeAttempts: getEnvInt("COMMIT_FINALIZE_ATTEMPTS", 3),
			FinalizeInterval: getEnvDuration("COMMIT_FINALIZE_INTERVAL", 200*time.Millisecond),
		},
		Storage: StorageConfig{
			Backend: getEnv("STORAGE_BACKEND", "redis"),
			TempTTL: getEnvDuration("STORAGE_TEMP_TTL", 72*time.Hour),
		},
		Review: ReviewConfig{
			RulesJSON: getEnv("REVIEW_RULES_JSON", ""),
		},
		Cache: CacheConfig{
			Enabled:    getEnvBool("CACHE_ENABLED", true),
			DefaultTTL: getEnvDuration("CACHE_DEFAULT_TTL", 15*time.Second),
		},
		Telemetry: TelemetryConfig{
			EnablePprof: getEnvBool("ENABLE_PPROF", true),
			PprofPort:   getEnvInt("PPROF_PORT", 6060),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	if c.Storage.Backend != "redis" && c.Storage.Backend != "memory" {
		return fmt.Errorf("unknown storage backend: %s", c.Storage.Backend)
	}

	if c.Generation.MaxCopyAttempts < 1 {
		return fmt.Errorf("generation max copy attempts must be >= 1")
	}

	if c.Generation.FinalizeAttempts < 1 {
		return fmt.Errorf("commit finalize attempts must be >= 1")
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// RedisAddr returns the Redis host:port address
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
