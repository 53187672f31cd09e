package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Server.WriteTimeout)

	assert.Equal(t, "routes.yaml", cfg.Routing.RoutesFile)
	assert.Equal(t, 60000, cfg.Routing.LongContextThreshold)
	assert.Equal(t, []string{"haiku"}, cfg.Routing.BackgroundModels)

	assert.Equal(t, "weighted_round_robin", cfg.Balancer.Strategy)
	assert.Equal(t, 5, cfg.Balancer.MaxErrorCount)
	assert.Equal(t, 5*time.Minute, cfg.Balancer.BlacklistDuration)
	assert.Equal(t, 30*time.Second, cfg.Balancer.HealthCheckInterval)

	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.Delay)
	assert.Equal(t, 2, cfg.Retry.Multiplier)

	assert.Equal(t, "memory", cfg.Session.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)

	assert.Equal(t, "info", cfg.Observability.LogLevel)
	assert.Equal(t, "json", cfg.Observability.LogFormat)
}

func TestNew_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("BALANCER_STRATEGY", "least_connections")
	t.Setenv("BALANCER_MAX_ERROR_COUNT", "10")
	t.Setenv("BALANCER_BLACKLIST_DURATION", "1m")
	t.Setenv("RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "least_connections", cfg.Balancer.Strategy)
	assert.Equal(t, 10, cfg.Balancer.MaxErrorCount)
	assert.Equal(t, time.Minute, cfg.Balancer.BlacklistDuration)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, "text", cfg.Observability.LogFormat)
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.IsDevelopment())
}

func TestNew_PortPrecedence(t *testing.T) {
	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("PORT", "9090")

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port, "PORT takes precedence over SERVER_PORT")
}

func TestNew_InvalidStrategy(t *testing.T) {
	t.Setenv("BALANCER_STRATEGY", "fastest_first")

	_, err := New()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "balancer strategy")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Routing:       RoutingConfig{RoutesFile: "routes.yaml"},
			Balancer:      BalancerConfig{Strategy: "round_robin"},
			Session:       SessionConfig{Backend: "memory"},
			Retry:         RetryConfig{MaxAttempts: 1},
			Observability: ObservabilityConfig{LogLevel: "info"},
		}
	}

	assert.NoError(t, base().Validate())

	cfg := base()
	cfg.Routing.RoutesFile = ""
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Session.Backend = "redis"
	cfg.Session.RedisAddr = ""
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Session.Backend = "redis"
	cfg.Session.RedisAddr = "localhost:6379"
	assert.NoError(t, cfg.Validate())

	cfg = base()
	cfg.Session.Backend = "dynamo"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Retry.MaxAttempts = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Observability.LogLevel = ""
	assert.Error(t, cfg.Validate())
}

func TestServerConfigAddress(t *testing.T) {
	sc := ServerConfig{Host: "127.0.0.1", Port: 8080}
	assert.Equal(t, "127.0.0.1:8080", sc.Address())
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STR", "value")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BAD_INT", "forty-two")
	t.Setenv("TEST_DUR", "90s")
	t.Setenv("TEST_BAD_DUR", "soon")

	assert.Equal(t, "value", getEnv("TEST_STR", "fallback"))
	assert.Equal(t, "fallback", getEnv("TEST_UNSET_KEY", "fallback"))

	assert.Equal(t, 42, getEnvAsInt("TEST_INT", 1))
	assert.Equal(t, 1, getEnvAsInt("TEST_BAD_INT", 1))
	assert.Equal(t, 1, getEnvAsInt("TEST_UNSET_KEY", 1))

	assert.Equal(t, 90*time.Second, getEnvAsDuration("TEST_DUR", time.Minute))
	assert.Equal(t, time.Minute, getEnvAsDuration("TEST_BAD_DUR", time.Minute))
	assert.Equal(t, time.Minute, getEnvAsDuration("TEST_UNSET_KEY", time.Minute))
}
