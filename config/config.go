package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Routing       RoutingConfig
	Balancer      BalancerConfig
	Retry         RetryConfig
	Pipeline      PipelineConfig
	Session       SessionConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// RoutingConfig holds the routing-table source and classifier tuning
type RoutingConfig struct {
	// RoutesFile is the YAML file holding providers and routes
	RoutesFile string

	// LongContextThreshold is the estimated token count at which a
	// request is classified as long-context
	LongContextThreshold int

	// BackgroundModels lists model-name substrings that classify a
	// request as background work
	BackgroundModels []string
}

// BalancerConfig holds load-balancer tuning
type BalancerConfig struct {
	Strategy            string
	MaxErrorCount       int
	BlacklistDuration   time.Duration
	HealthCheckInterval time.Duration
}

// RetryConfig holds the provider retry policy
type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
	Multiplier  int
}

// PipelineConfig holds executor tuning
type PipelineConfig struct {
	FallbackModel string
	StreamBuffer  int
}

// SessionConfig holds session-store configuration. Backend is
// "memory" or "redis".
type SessionConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or text
}

// New creates a new Config instance by loading environment variables
func New() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 5*time.Minute),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Routing: RoutingConfig{
			RoutesFile:           getEnv("ROUTES_FILE", "routes.yaml"),
			LongContextThreshold: getEnvAsInt("LONG_CONTEXT_THRESHOLD", 60000),
			BackgroundModels:     []string{"haiku"},
		},
		Balancer: BalancerConfig{
			Strategy:            getEnv("BALANCER_STRATEGY", "weighted_round_robin"),
			MaxErrorCount:       getEnvAsInt("BALANCER_MAX_ERROR_COUNT", 5),
			BlacklistDuration:   getEnvAsDuration("BALANCER_BLACKLIST_DURATION", 5*time.Minute),
			HealthCheckInterval: getEnvAsDuration("BALANCER_HEALTH_CHECK_INTERVAL", 30*time.Second),
		},
		Retry: RetryConfig{
			MaxAttempts: getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
			Delay:       getEnvAsDuration("RETRY_DELAY", time.Second),
			Multiplier:  getEnvAsInt("RETRY_MULTIPLIER", 2),
		},
		Pipeline: PipelineConfig{
			FallbackModel: getEnv("FALLBACK_MODEL", "unknown"),
			StreamBuffer:  getEnvAsInt("STREAM_BUFFER", 16),
		},
		Session: SessionConfig{
			Backend:       getEnv("SESSION_BACKEND", "memory"),
			RedisAddr:     getEnv("SESSION_REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("SESSION_REDIS_PASSWORD", ""),
			RedisDB:       getEnvAsInt("SESSION_REDIS_DB", 0),
			TTL:           getEnvAsDuration("SESSION_TTL", 24*time.Hour),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.Routing.RoutesFile == "" {
		return fmt.Errorf("routes file is required: set ROUTES_FILE")
	}

	switch c.Balancer.Strategy {
	case "round_robin", "weighted_round_robin", "least_connections":
	default:
		return fmt.Errorf("unknown balancer strategy %q", c.Balancer.Strategy)
	}

	switch c.Session.Backend {
	case "memory":
	case "redis":
		if c.Session.RedisAddr == "" {
			return fmt.Errorf("redis address is required for the redis session backend")
		}
	default:
		return fmt.Errorf("unknown session backend %q", c.Session.Backend)
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1")
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
