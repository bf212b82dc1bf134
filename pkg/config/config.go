package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/civitashq/civitas/pkg/blob"
	"github.com/civitashq/civitas/pkg/observability"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Blob          blob.Config         `yaml:"blob"`
	Auth          AuthConfig          `yaml:"auth"`
	Sync          SyncConfig          `yaml:"sync"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for probes)
	HealthPort string `yaml:"health_port"`

	// BaseURL is the public URL prefix used in invitation links.
	BaseURL string `yaml:"base_url"`
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	URL          string        `yaml:"url"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	ConnLifetime time.Duration `yaml:"conn_lifetime"`
}

// RedisConfig holds Redis settings. An empty Addr disables the distributed
// rate limiter and the Redis health check.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AuthConfig holds session and invitation lifetimes.
type AuthConfig struct {
	SessionTTL    time.Duration `yaml:"session_ttl"`
	InvitationTTL time.Duration `yaml:"invitation_ttl"`
}

// SyncConfig holds offline sync settings.
type SyncConfig struct {
	BootstrapLimit       int           `yaml:"bootstrap_limit"`
	IdempotencyRetention time.Duration `yaml:"idempotency_retention"`
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel `yaml:"-"`
	LogLevelName   string                 `yaml:"log_level"`
	MetricsEnabled bool                   `yaml:"metrics_enabled"`
	AuditQueueSize int                    `yaml:"audit_queue_size"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
			BaseURL:         "http://localhost:8080",
		},
		Database: DatabaseConfig{
			MaxOpenConns: 20,
			MaxIdleConns: 5,
			ConnLifetime: 30 * time.Minute,
		},
		Blob: blob.Config{
			Region: "us-east-1",
			Bucket: "civitas-attachments",
		},
		Auth: AuthConfig{
			SessionTTL:    7 * 24 * time.Hour,
			InvitationTTL: 72 * time.Hour,
		},
		Sync: SyncConfig{
			BootstrapLimit:       100,
			IdempotencyRetention: 30 * 24 * time.Hour,
		},
		Observability: ObservabilityConfig{
			LogLevelName:   "info",
			MetricsEnabled: true,
			AuditQueueSize: 1024,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (when
// non-empty), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.Observability.LogLevel = observability.ParseLogLevel(cfg.Observability.LogLevelName)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnv("CIVITAS_HOST", c.Server.Host)
	c.Server.Port = getEnv("CIVITAS_PORT", c.Server.Port)
	c.Server.HealthPort = getEnv("CIVITAS_HEALTH_PORT", c.Server.HealthPort)
	c.Server.BaseURL = getEnv("CIVITAS_BASE_URL", c.Server.BaseURL)
	c.Server.ReadTimeout = getEnvDuration("CIVITAS_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("CIVITAS_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("CIVITAS_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("CIVITAS_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Database.URL = getEnv("CIVITAS_POSTGRES_URL", c.Database.URL)
	c.Database.MaxOpenConns = getEnvInt("CIVITAS_POSTGRES_MAX_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = getEnvInt("CIVITAS_POSTGRES_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.ConnLifetime = getEnvDuration("CIVITAS_POSTGRES_CONN_LIFETIME", c.Database.ConnLifetime)

	c.Redis.Addr = getEnv("CIVITAS_REDIS_URL", c.Redis.Addr)
	c.Redis.Password = getEnv("CIVITAS_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("CIVITAS_REDIS_DB", c.Redis.DB)

	c.Blob.Endpoint = getEnv("CIVITAS_S3_ENDPOINT", c.Blob.Endpoint)
	c.Blob.Region = getEnv("CIVITAS_S3_REGION", c.Blob.Region)
	c.Blob.Bucket = getEnv("CIVITAS_S3_BUCKET", c.Blob.Bucket)
	c.Blob.AccessKey = getEnv("CIVITAS_S3_ACCESS_KEY", c.Blob.AccessKey)
	c.Blob.SecretKey = getEnv("CIVITAS_S3_SECRET_KEY", c.Blob.SecretKey)
	c.Blob.UsePathStyle = getEnvBool("CIVITAS_S3_USE_PATH_STYLE", c.Blob.UsePathStyle)

	c.Auth.SessionTTL = getEnvDuration("CIVITAS_SESSION_TTL", c.Auth.SessionTTL)
	c.Auth.InvitationTTL = getEnvDuration("CIVITAS_INVITATION_TTL", c.Auth.InvitationTTL)

	c.Sync.BootstrapLimit = getEnvInt("CIVITAS_SYNC_BOOTSTRAP_LIMIT", c.Sync.BootstrapLimit)
	c.Sync.IdempotencyRetention = getEnvDuration("CIVITAS_SYNC_IDEMPOTENCY_RETENTION", c.Sync.IdempotencyRetention)

	c.Observability.LogLevelName = getEnv("CIVITAS_LOG_LEVEL", c.Observability.LogLevelName)
	c.Observability.MetricsEnabled = getEnvBool("CIVITAS_METRICS_ENABLED", c.Observability.MetricsEnabled)
	c.Observability.AuditQueueSize = getEnvInt("CIVITAS_AUDIT_QUEUE_SIZE", c.Observability.AuditQueueSize)
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if c.Auth.InvitationTTL <= 0 {
		return fmt.Errorf("invitation TTL must be positive")
	}
	if c.Sync.BootstrapLimit <= 0 {
		return fmt.Errorf("sync bootstrap limit must be positive")
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

// getEnvBool returns a boolean environment variable or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
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

// getEnvDuration returns a duration environment variable or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
