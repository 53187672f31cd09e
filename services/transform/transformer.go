// Package transform converts unified requests into provider wire
// formats and provider responses back into the unified format,
// repairing responses that arrive incomplete.
package transform

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/upb/llm-proxy/services"
	"github.com/upb/llm-proxy/services/schema"
)

// Format identifies a provider wire format family.
type Format string

const (
	FormatOpenAI    Format = "openai"
	FormatAnthropic Format = "anthropic"
)

// Transformer maps a StandardRequest into one provider wire schema and
// parses that provider's responses back. Implementations are stateless
// and safe for concurrent use.
//
// Message ordering and tool-call identifiers pass through verbatim in
// both directions.
type Transformer interface {
	// Format returns the wire format this transformer speaks
	Format() Format

	// BuildRequest serializes the request into the provider schema
	BuildRequest(req schema.StandardRequest) (json.RawMessage, error)

	// ParseResponse converts a raw provider response body into the
	// unified response. Parsing is lenient; the post-processor
	// repairs whatever the provider left out.
	ParseResponse(raw json.RawMessage) (schema.StandardResponse, error)

	// ParseChunk converts one raw streaming event into a unified
	// chunk. The second return is true when the event carried
	// nothing worth forwarding.
	ParseChunk(raw json.RawMessage) (schema.StreamChunk, bool, error)
}

// New returns the transformer for a wire format.
func New(format Format) (Transformer, error) {
	switch format {
	case FormatOpenAI:
		return openAITransformer{}, nil
	case FormatAnthropic:
		return anthropicTransformer{}, nil
	default:
		return nil, services.NewProxyError(services.CodePipelineAssemblyFailed,
			fmt.Sprintf("no transformer for format %q", format), nil)
	}
}

// encodeToolArguments serializes structured tool input to the
// string-encoded JSON some providers require, verifying the encoding
// round-trips. Empty input encodes as the empty object.
func encodeToolArguments(input json.RawMessage) (string, error) {
	if len(input) == 0 {
		return "{}", nil
	}
	if !json.Valid(input) {
		return "", services.NewProxyError(services.CodePipelineExecutionFailed,
			"tool arguments do not serialize to JSON", nil)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, input); err != nil {
		return "", services.NewProxyError(services.CodePipelineExecutionFailed,
			"tool arguments do not serialize to JSON", err)
	}
	return buf.String(), nil
}

// structuredToolArguments goes the other way: it validates a
// string-encoded argument payload and returns it as structured JSON.
func structuredToolArguments(arguments string) (json.RawMessage, error) {
	if arguments == "" {
		return json.RawMessage("{}"), nil
	}
	if !json.Valid([]byte(arguments)) {
		return nil, services.NewProxyError(services.CodePipelineExecutionFailed,
			"tool arguments do not serialize to JSON", nil)
	}
	return json.RawMessage(arguments), nil
}
