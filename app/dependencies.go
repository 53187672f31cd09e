package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/upb/llm-proxy/config"
	"github.com/upb/llm-proxy/services/balancer"
	"github.com/upb/llm-proxy/services/pipeline"
	"github.com/upb/llm-proxy/services/providers"
	"github.com/upb/llm-proxy/services/routing"
	"github.com/upb/llm-proxy/services/session"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies. This is the central
// wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger

	// Routing core
	Table     routing.Table
	Router    *routing.Router
	Balancer  *balancer.Registry
	Instances *providers.Registry
	Executor  *pipeline.Executor

	// Session control
	Sessions session.Store

	redisClient *redis.Client
	sweepCancel context.CancelFunc
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initRouting(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize routing: %w", err)
	}

	if err := deps.initSessions(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize sessions: %w", err)
	}

	deps.initExecutor(cfg)
	deps.startSweeper()

	logger.Info("all dependencies initialized successfully",
		zap.Int("pipelines", len(deps.Table.Pipelines())),
		zap.String("strategy", cfg.Balancer.Strategy))
	return deps, nil
}

// initRouting loads the routing table, assembles the pipeline
// instances, and seeds the load-balancer health registry.
func (d *Dependencies) initRouting(cfg *config.Config) error {
	rf, err := config.LoadRoutes(cfg.Routing.RoutesFile)
	if err != nil {
		return err
	}

	table, err := rf.Table()
	if err != nil {
		return err
	}
	d.Table = table

	router, err := routing.NewRouter(table, d.Logger)
	if err != nil {
		return err
	}
	d.Router = router

	d.Balancer = balancer.NewRegistry(balancer.Config{
		Strategy:            balancer.Strategy(cfg.Balancer.Strategy),
		MaxErrorCount:       cfg.Balancer.MaxErrorCount,
		BlacklistDuration:   cfg.Balancer.BlacklistDuration,
		HealthCheckInterval: cfg.Balancer.HealthCheckInterval,
	}, table, d.Logger)

	instances, err := providers.Assemble(table, rf.Providers, d.Logger)
	if err != nil {
		return err
	}
	d.Instances = instances

	return nil
}

// initSessions creates the configured session store.
func (d *Dependencies) initSessions(ctx context.Context, cfg *config.Config) error {
	if cfg.Session.Backend != "redis" {
		d.Sessions = session.NewMemoryStore()
		d.Logger.Info("using in-memory session store")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Session.RedisAddr,
		Password: cfg.Session.RedisPassword,
		DB:       cfg.Session.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}

	d.redisClient = client
	d.Sessions = session.NewRedisStore(client, cfg.Session.TTL)
	d.Logger.Info("using redis session store",
		zap.String("addr", cfg.Session.RedisAddr))
	return nil
}

// initExecutor wires the pipeline executor.
func (d *Dependencies) initExecutor(cfg *config.Config) {
	d.Executor = pipeline.NewExecutor(d.Router, d.Balancer, d.Instances, pipeline.Config{
		Retry: pipeline.RetryConfig{
			MaxAttempts: cfg.Retry.MaxAttempts,
			Delay:       cfg.Retry.Delay,
			Multiplier:  cfg.Retry.Multiplier,
		},
		Classifier: routing.ClassifierConfig{
			LongContextThreshold: cfg.Routing.LongContextThreshold,
			BackgroundModels:     cfg.Routing.BackgroundModels,
		},
		FallbackModel: cfg.Pipeline.FallbackModel,
		StreamBuffer:  cfg.Pipeline.StreamBuffer,
	}, d.Logger)
}

// startSweeper runs the background blacklist sweep until Close.
func (d *Dependencies) startSweeper() {
	ctx, cancel := context.WithCancel(context.Background())
	d.sweepCancel = cancel
	d.Balancer.StartSweeper(ctx)
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	if d.sweepCancel != nil {
		d.sweepCancel()
	}

	var errs []error
	if d.redisClient != nil {
		if err := d.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis client: %w", err))
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}
	return nil
}
