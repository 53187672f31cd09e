package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/upb/llm-proxy/services"
	"github.com/upb/llm-proxy/services/transform"
	"go.uber.org/zap"
)

const defaultTimeout = 60 * time.Second

// Credential configures one credential-backed connection to a
// provider. Each credential backs one pipeline instance; the same
// provider can appear multiple times with different keys.
type Credential struct {
	Provider       string           `yaml:"name" validate:"required"`
	Format         transform.Format `yaml:"format" validate:"required,oneof=openai anthropic"`
	BaseURL        string           `yaml:"base_url" validate:"required,url"`
	APIKey         string           `yaml:"api_key"`
	TimeoutSeconds int              `yaml:"timeout_seconds" validate:"omitempty,gt=0"`
}

// RequestTimeout returns the per-call timeout for this credential.
func (c Credential) RequestTimeout() time.Duration {
	if c.TimeoutSeconds > 0 {
		return time.Duration(c.TimeoutSeconds) * time.Second
	}
	return defaultTimeout
}

// StreamEvent is one unit of a raw provider stream: either an event
// payload or the terminal transport error. A connection that dies
// mid-stream delivers an Err event before the channel closes, so
// consumers can tell truncation from a clean end.
type StreamEvent struct {
	Data json.RawMessage
	Err  error
}

// Protocol is the network contract of the provider-protocol layer:
// opaque wire bytes in, opaque wire bytes out. Failures surface as
// *ProviderError carrying the retryable flag.
type Protocol interface {
	// Provider returns the provider name this protocol talks to
	Provider() string

	// Invoke performs one non-streaming call
	Invoke(ctx context.Context, body json.RawMessage) (json.RawMessage, error)

	// Stream performs one streaming call and returns the raw events.
	// The channel closes when the provider finishes, fails, or ctx is
	// cancelled; a mid-stream failure arrives as a final Err event.
	Stream(ctx context.Context, body json.RawMessage) (<-chan StreamEvent, error)
}

// HTTPProtocol implements Protocol over the provider's HTTP API.
type HTTPProtocol struct {
	cred         Credential
	client       *http.Client
	streamClient *http.Client
	logger       *zap.Logger
}

// NewHTTPProtocol creates an HTTP protocol client for one credential.
// Streaming uses a separate client with no whole-request timeout: a
// stream legitimately outlives any fixed deadline, so only the
// response headers are bounded and ctx ends the body.
func NewHTTPProtocol(cred Credential, logger *zap.Logger) *HTTPProtocol {
	streamTransport := http.DefaultTransport.(*http.Transport).Clone()
	streamTransport.ResponseHeaderTimeout = cred.RequestTimeout()

	return &HTTPProtocol{
		cred:         cred,
		client:       &http.Client{Timeout: cred.RequestTimeout()},
		streamClient: &http.Client{Transport: streamTransport},
		logger:       logger,
	}
}

// Provider returns the provider name
func (p *HTTPProtocol) Provider() string {
	return p.cred.Provider
}

func (p *HTTPProtocol) endpoint() string {
	base := strings.TrimSuffix(p.cred.BaseURL, "/")
	if p.cred.Format == transform.FormatAnthropic {
		return base + "/messages"
	}
	return base + "/chat/completions"
}

func (p *HTTPProtocol) newRequest(ctx context.Context, body json.RawMessage) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, NewProviderError(p.cred.Provider, services.CodeInternalError,
			"failed to build provider request", 0, false, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cred.Format == transform.FormatAnthropic {
		req.Header.Set("x-api-key", p.cred.APIKey)
		req.Header.Set("anthropic-version", "2023-06-01")
	} else {
		req.Header.Set("Authorization", "Bearer "+p.cred.APIKey)
	}
	return req, nil
}

// classifyTransport maps transport-level failures. Context
// cancellation passes through untouched so the caller can distinguish
// client disconnects from provider failures.
func (p *HTTPProtocol) classifyTransport(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return NewProviderError(p.cred.Provider, services.CodeNetworkTimeout,
			"provider call timed out", 0, true, err)
	}
	return NewProviderError(p.cred.Provider, services.CodeNetworkConnectionFailed,
		"provider connection failed", 0, true, err)
}

// Invoke performs one non-streaming provider call.
func (p *HTTPProtocol) Invoke(ctx context.Context, body json.RawMessage) (json.RawMessage, error) {
	req, err := p.newRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, p.classifyTransport(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, p.classifyTransport(err)
	}

	p.logger.Debug("provider call completed",
		zap.String("provider", p.cred.Provider),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)))

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(p.cred.Provider, resp.StatusCode, truncate(string(payload), 256))
	}
	return payload, nil
}

// Stream performs one streaming provider call and forwards raw SSE
// data payloads. The returned channel closes when the stream ends; a
// connection severed mid-stream delivers a final Err event first.
func (p *HTTPProtocol) Stream(ctx context.Context, body json.RawMessage) (<-chan StreamEvent, error) {
	req, err := p.newRequest(ctx, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := p.streamClient.Do(req)
	if err != nil {
		return nil, p.classifyTransport(err)
	}
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, classifyStatus(p.cred.Provider, resp.StatusCode, truncate(string(payload), 256))
	}

	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" || data == "[DONE]" {
				continue
			}
			select {
			case out <- StreamEvent{Data: json.RawMessage(data)}:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			select {
			case out <- StreamEvent{Err: p.classifyTransport(err)}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
