package pipeline

import (
	"context"
	"errors"

	"github.com/upb/llm-proxy/services/providers"
	"github.com/upb/llm-proxy/services/schema"
	"github.com/upb/llm-proxy/services/transform"
	"go.uber.org/zap"
)

// ExecuteStream runs a streaming request through the pipeline. The
// returned channel is a lazy, finite, non-restartable sequence of
// chunks; it closes after the terminal chunk. The producer writes into
// a bounded buffer and suspends when the consumer is not draining, so
// unflushed output never grows without bound.
//
// Connection-phase failures retry like non-streaming requests. Once
// the provider starts streaming, a failure surfaces as an error chunk
// instead.
func (e *Executor) ExecuteStream(ctx context.Context, req schema.StandardRequest) (<-chan schema.StreamChunk, error) {
	req.Stream = true
	ex := &Exchange{Request: req, tracker: newTracker()}

	if err := e.stages[0].Process(ctx, ex); err != nil {
		ex.tracker.fail()
		return nil, err
	}

	var raw <-chan providers.StreamEvent
	for {
		var err error
		raw, err = e.openStream(ctx, ex)
		if err == nil {
			break
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
	}

	out := make(chan schema.StreamChunk, e.cfg.StreamBuffer)
	go e.forward(ctx, ex, raw, out)
	return out, nil
}

// openStream runs the routing and transform stages, then opens the
// provider stream.
func (e *Executor) openStream(ctx context.Context, ex *Exchange) (<-chan providers.StreamEvent, error) {
	for _, stage := range e.stages[1:3] {
		if err := stage.Process(ctx, ex); err != nil {
			return nil, err
		}
	}
	if err := ex.tracker.mark(StateProviderCalled); err != nil {
		return nil, err
	}
	return ex.Instance.Protocol.Stream(ctx, ex.WireRequest)
}

// forward pumps provider events to the consumer, reconciling the
// finish reason against the tool invocations actually seen. A
// mid-stream transport failure counts against the pipeline and
// surfaces to the client as an error chunk, never as a done chunk.
func (e *Executor) forward(ctx context.Context, ex *Exchange, raw <-chan providers.StreamEvent, out chan<- schema.StreamChunk) {
	defer close(out)

	sawToolUse := false
	finishReason := ""

	for event := range raw {
		if event.Err != nil {
			e.failStream(ctx, ex, event.Err, out)
			return
		}
		chunk, skip, err := ex.Instance.Transformer.ParseChunk(event.Data)
		if err != nil {
			e.logger.Warn("dropping malformed stream event",
				zap.String("request_id", ex.Request.ID),
				zap.Error(err))
			continue
		}
		if skip {
			continue
		}
		if len(chunk.ToolCalls) > 0 {
			sawToolUse = true
		}
		if chunk.FinishReason != "" {
			finishReason = transform.ReconcileFinishReason(chunk.FinishReason, sawToolUse)
			chunk.FinishReason = finishReason
		}

		select {
		case out <- chunk:
		case <-ctx.Done():
			e.settleStream(ctx, ex)
			return
		}
	}

	if ctx.Err() != nil {
		e.settleStream(ctx, ex)
		return
	}

	done := schema.StreamChunk{
		Type:         schema.StreamChunkDone,
		FinishReason: transform.ReconcileFinishReason(finishReason, sawToolUse),
	}
	select {
	case out <- done:
	case <-ctx.Done():
		e.settleStream(ctx, ex)
		return
	}

	ex.lease.success()
	ex.tracker.mark(StateResponseTransformed)
	ex.tracker.mark(StateCompleted)
}

// settleStream releases the pipeline slot for a stream that ended
// early. A provider-side deadline counts as a failure; a client
// disconnect does not.
func (e *Executor) settleStream(ctx context.Context, ex *Exchange) {
	ex.tracker.fail()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		ex.lease.failure(ctx.Err())
		return
	}
	ex.lease.release()
}

// failStream settles a stream the provider severed mid-flight: the
// pipeline takes the failure report and the client receives an error
// chunk instead of a done chunk.
func (e *Executor) failStream(ctx context.Context, ex *Exchange, err error, out chan<- schema.StreamChunk) {
	e.logger.Warn("provider stream failed mid-flight",
		zap.String("request_id", ex.Request.ID),
		zap.String("pipeline_id", ex.Route.PipelineID),
		zap.Error(err))

	ex.tracker.fail()
	ex.lease.failure(err)

	select {
	case out <- schema.StreamChunk{Type: schema.StreamChunkError, Err: err.Error()}:
	case <-ctx.Done():
	}
}
