// Package pipeline runs the six-layer request pipeline: client,
// router, transformer, provider protocol, post-processor, server.
// Each layer is a Stage with a narrow contract; the executor drives
// them in fixed order and owns the retry policy.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/upb/llm-proxy/services"
	"github.com/upb/llm-proxy/services/balancer"
	"github.com/upb/llm-proxy/services/providers"
	"github.com/upb/llm-proxy/services/routing"
	"github.com/upb/llm-proxy/services/schema"
	"github.com/upb/llm-proxy/services/transform"
	"go.uber.org/zap"
)

// Retry policy defaults.
const (
	DefaultMaxAttempts       = 3
	DefaultRetryDelay        = time.Second
	DefaultBackoffMultiplier = 2
	DefaultStreamBuffer      = 16
)

// RetryConfig tunes the provider retry policy.
type RetryConfig struct {
	// MaxAttempts bounds the total provider attempts per request
	MaxAttempts int

	// Delay is the backoff before the first retry
	Delay time.Duration

	// Multiplier grows the delay per attempt
	Multiplier int
}

// Config tunes the executor.
type Config struct {
	Retry      RetryConfig
	Classifier routing.ClassifierConfig

	// FallbackModel substitutes a missing model field in responses
	FallbackModel string

	// StreamBuffer bounds unflushed streaming output; the producer
	// suspends when the consumer falls this far behind
	StreamBuffer int
}

func (c Config) withDefaults() Config {
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if c.Retry.Delay <= 0 {
		c.Retry.Delay = DefaultRetryDelay
	}
	if c.Retry.Multiplier <= 0 {
		c.Retry.Multiplier = DefaultBackoffMultiplier
	}
	if c.StreamBuffer <= 0 {
		c.StreamBuffer = DefaultStreamBuffer
	}
	return c
}

// Exchange carries one request through the stages. Stages write their
// output fields and never touch fields owned by later stages.
type Exchange struct {
	Request  schema.StandardRequest
	Category routing.Category
	Route    routing.Route
	Instance *providers.Instance

	WireRequest json.RawMessage
	RawResponse json.RawMessage
	Response    schema.StandardResponse
	Warnings    []transform.Warning

	tracker *tracker
	lease   *lease
}

// Stage is one layer of the pipeline.
type Stage interface {
	// Name identifies the layer in logs and error context
	Name() string

	// Process runs this layer against the exchange
	Process(ctx context.Context, ex *Exchange) error
}

// Executor drives a request through the ordered stages, consulting
// the load balancer for pipeline selection and enforcing the retry
// policy on retryable provider errors.
type Executor struct {
	router    *routing.Router
	balancer  *balancer.Registry
	instances *providers.Registry
	post      *transform.PostProcessor
	cfg       Config
	logger    *zap.Logger

	stages []Stage
}

// NewExecutor wires the executor and its fixed stage order.
func NewExecutor(
	router *routing.Router,
	registry *balancer.Registry,
	instances *providers.Registry,
	cfg Config,
	logger *zap.Logger,
) *Executor {
	e := &Executor{
		router:    router,
		balancer:  registry,
		instances: instances,
		post:      transform.NewPostProcessor(cfg.FallbackModel, logger),
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
	e.stages = []Stage{
		clientStage{},
		routerStage{e},
		transformStage{},
		providerStage{},
		postProcessStage{e},
		serverStage{},
	}
	return e
}

// lease is a scoped acquisition of one pipeline's connection slot. It
// guarantees the slot is released exactly once on every exit path.
type lease struct {
	registry   *balancer.Registry
	pipelineID string
	settled    bool
}

func (l *lease) success() {
	if l == nil || l.settled {
		return
	}
	l.settled = true
	l.registry.ReportSuccess(l.pipelineID)
}

func (l *lease) failure(err error) {
	if l == nil || l.settled {
		return
	}
	l.settled = true
	l.registry.ReportFailure(l.pipelineID, err)
}

// release frees the slot without a health report, for client-side
// cancellation.
func (l *lease) release() {
	if l == nil || l.settled {
		return
	}
	l.settled = true
	l.registry.Release(l.pipelineID)
}

// Execute runs a non-streaming request through the pipeline.
func (e *Executor) Execute(ctx context.Context, req schema.StandardRequest) (*schema.StandardResponse, error) {
	ex := &Exchange{Request: req, tracker: newTracker()}
	defer func() {
		// Safety net: a lease that reached no terminal report frees
		// its slot.
		if ex.lease != nil {
			ex.lease.release()
		}
	}()

	if err := e.stages[0].Process(ctx, ex); err != nil {
		ex.tracker.fail()
		return nil, err
	}

	for {
		err := e.runAttempt(ctx, ex)
		if err == nil {
			return &ex.Response, nil
		}

		if !e.shouldRetry(ctx, ex, err) {
			ex.tracker.fail()
			return nil, e.wrapFailure(ex, err)
		}

		if backoffErr := e.backoff(ctx, ex.tracker.attempt); backoffErr != nil {
			ex.tracker.fail()
			return nil, e.wrapFailure(ex, err)
		}
		if retryErr := ex.tracker.retry(); retryErr != nil {
			ex.tracker.fail()
			return nil, retryErr
		}
		e.logger.Info("retrying request on new pipeline",
			zap.String("request_id", ex.Request.ID),
			zap.Int("attempt", ex.tracker.attempt),
			zap.Int("max_attempts", e.cfg.Retry.MaxAttempts))
	}
}

// runAttempt drives one provider attempt: route, transform, call,
// post-process, finalize.
func (e *Executor) runAttempt(ctx context.Context, ex *Exchange) error {
	for _, stage := range e.stages[1:] {
		if err := stage.Process(ctx, ex); err != nil {
			return err
		}
	}
	ex.lease.success()
	return nil
}

// shouldRetry decides whether a failed attempt is retried. The failed
// pipeline receives its failure report here, before the next attempt
// selects again, so re-selection sees fresh health state. Client-side
// cancellation releases the slot without a failure report.
func (e *Executor) shouldRetry(ctx context.Context, ex *Exchange, err error) bool {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		ex.lease.release()
		return false
	}

	if providers.IsRetryable(err) {
		ex.lease.failure(err)
		return ex.tracker.attempt < e.cfg.Retry.MaxAttempts
	}

	var provErr *providers.ProviderError
	if errors.As(err, &provErr) {
		ex.lease.failure(err)
		return false
	}

	// Routing and selection failures never held a lease for this
	// attempt; transform failures did.
	ex.lease.failure(err)
	return false
}

// backoff sleeps the exponential delay for the coming retry, aborting
// when the request context ends first.
func (e *Executor) backoff(ctx context.Context, attempt int) error {
	delay := e.cfg.Retry.Delay
	for i := 1; i < attempt; i++ {
		delay *= time.Duration(e.cfg.Retry.Multiplier)
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// wrapFailure attaches pipeline context to the terminal error. Errors
// already carrying a taxonomy code pass through with added detail;
// provider errors surface as PIPELINE_EXECUTION_FAILED carrying the
// last provider error.
func (e *Executor) wrapFailure(ex *Exchange, err error) error {
	var proxyErr *services.ProxyError
	if errors.As(err, &proxyErr) && proxyErr.Code.Group() != services.GroupProvider &&
		proxyErr.Code.Group() != services.GroupNetwork {
		return proxyErr.
			WithDetail("pipeline_id", ex.Route.PipelineID).
			WithDetail("attempt", ex.tracker.attempt).
			WithDetail("max_attempts", e.cfg.Retry.MaxAttempts)
	}

	wrapped := services.NewProxyError(services.CodePipelineExecutionFailed,
		"pipeline execution failed", err).
		WithDetail("pipeline_id", ex.Route.PipelineID).
		WithDetail("attempt", ex.tracker.attempt).
		WithDetail("max_attempts", e.cfg.Retry.MaxAttempts)

	var provErr *providers.ProviderError
	if errors.As(err, &provErr) {
		wrapped.WithDetail("provider", provErr.Provider).
			WithDetail("provider_code", string(provErr.Code))
		if provErr.StatusCode != 0 {
			wrapped.WithDetail("status_code", provErr.StatusCode)
		}
	}
	return wrapped
}

// clientStage validates the inbound request and stamps its identity.
// Authentication and CORS live outside the core.
type clientStage struct{}

func (clientStage) Name() string { return "client" }

func (clientStage) Process(ctx context.Context, ex *Exchange) error {
	if ex.Request.Model == "" {
		return services.NewProxyError(services.CodeValidationError, "model is required", nil)
	}
	if len(ex.Request.Messages) == 0 {
		return services.NewProxyError(services.CodeValidationError, "messages must not be empty", nil)
	}
	if ex.Request.ID == "" {
		ex.Request.ID = "req_" + uuid.NewString()
	}
	return nil
}

// routerStage classifies the request, resolves candidates, and asks
// the load balancer for a concrete pipeline, acquiring the connection
// lease.
type routerStage struct{ e *Executor }

func (routerStage) Name() string { return "router" }

func (s routerStage) Process(ctx context.Context, ex *Exchange) error {
	e := s.e
	if ex.Category == "" {
		ex.Category = routing.Classify(&ex.Request, e.cfg.Classifier)
		ex.Request.Metadata.Category = string(ex.Category)
	}

	candidates, err := e.router.Resolve(ex.Category, e.balancer)
	if err != nil {
		return err
	}

	route, err := e.balancer.Select(candidates)
	if err != nil {
		return err
	}

	inst, err := e.instances.Get(route.PipelineID)
	if err != nil {
		e.balancer.Release(route.PipelineID)
		return err
	}

	ex.Route = route
	ex.Instance = inst
	ex.lease = &lease{registry: e.balancer, pipelineID: route.PipelineID}
	ex.Request.Metadata.Provider = route.Provider
	ex.Request.Metadata.TargetFormat = string(inst.Format)

	e.logger.Debug("request routed",
		zap.String("request_id", ex.Request.ID),
		zap.String("category", string(ex.Category)),
		zap.String("pipeline_id", route.PipelineID),
		zap.Int("attempt", ex.tracker.attempt))
	return ex.tracker.mark(StateRouted)
}

// transformStage builds the provider wire request, rewriting the
// virtual model name to the concrete routed model.
type transformStage struct{}

func (transformStage) Name() string { return "transformer" }

func (transformStage) Process(ctx context.Context, ex *Exchange) error {
	routed := ex.Request
	routed.Model = ex.Route.Model

	wire, err := ex.Instance.Transformer.BuildRequest(routed)
	if err != nil {
		return err
	}
	ex.WireRequest = wire
	return ex.tracker.mark(StateRequestTransformed)
}

// providerStage performs the network call.
type providerStage struct{}

func (providerStage) Name() string { return "provider" }

func (providerStage) Process(ctx context.Context, ex *Exchange) error {
	if err := ex.tracker.mark(StateProviderCalled); err != nil {
		return err
	}
	raw, err := ex.Instance.Protocol.Invoke(ctx, ex.WireRequest)
	if err != nil {
		return err
	}
	ex.RawResponse = raw
	return nil
}

// postProcessStage parses the provider response and repairs it into a
// well-formed StandardResponse.
type postProcessStage struct{ e *Executor }

func (postProcessStage) Name() string { return "postprocessor" }

func (s postProcessStage) Process(ctx context.Context, ex *Exchange) error {
	parsed, err := ex.Instance.Transformer.ParseResponse(ex.RawResponse)
	if err != nil {
		return err
	}
	ex.Response, ex.Warnings = s.e.post.Repair(parsed)
	return ex.tracker.mark(StateResponseTransformed)
}

// serverStage finalizes the unified response before it leaves the
// core.
type serverStage struct{}

func (serverStage) Name() string { return "server" }

func (serverStage) Process(ctx context.Context, ex *Exchange) error {
	ex.Response.Provider = ex.Route.Provider
	return ex.tracker.mark(StateCompleted)
}
