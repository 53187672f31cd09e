package routing

import (
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
	"github.com/upb/llm-proxy/services/schema"
)

// DefaultLongContextThreshold is the prompt token count at or above
// which a request is classified as long-context.
const DefaultLongContextThreshold = 60000

// ClassifierConfig tunes request classification.
type ClassifierConfig struct {
	// LongContextThreshold is the token count boundary for the
	// longcontext category. Zero means DefaultLongContextThreshold.
	LongContextThreshold int

	// BackgroundModels lists model-name substrings that mark a
	// request as background work (defaults to "haiku").
	BackgroundModels []string
}

var defaultBackgroundModels = []string{"haiku"}

// Classify maps a request to its routing category. It is deterministic
// and side-effect free: the same request always yields the same
// category, and unrecognized signals fall through to default.
//
// Signals are checked in precedence order: prompt size, background
// model hints, thinking hint, then search hint.
func Classify(req *schema.StandardRequest, cfg ClassifierConfig) Category {
	threshold := cfg.LongContextThreshold
	if threshold <= 0 {
		threshold = DefaultLongContextThreshold
	}

	if EstimateTokens(req) >= threshold {
		return CategoryLongContext
	}

	background := cfg.BackgroundModels
	if len(background) == 0 {
		background = defaultBackgroundModels
	}
	model := strings.ToLower(req.Model)
	for _, hint := range background {
		if hint != "" && strings.Contains(model, strings.ToLower(hint)) {
			return CategoryBackground
		}
	}

	if req.Metadata.Thinking {
		return CategoryThinking
	}

	if req.Metadata.WebSearch || hasSearchTool(req.Tools) {
		return CategorySearch
	}

	return CategoryDefault
}

func hasSearchTool(tools []schema.Tool) bool {
	for _, tool := range tools {
		if strings.HasPrefix(tool.Function.Name, "web_search") {
			return true
		}
	}
	return false
}

var (
	encoderOnce sync.Once
	encoder     tokenizer.Codec
)

// EstimateTokens estimates the prompt token count of a request. It
// tokenizes text content with the cl100k encoding and falls back to a
// bytes/4 heuristic when the encoder is unavailable. Tool definitions
// and structured tool payloads use the byte heuristic directly.
func EstimateTokens(req *schema.StandardRequest) int {
	encoderOnce.Do(func() {
		enc, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err == nil {
			encoder = enc
		}
	})

	total := countText(req.System)
	for _, msg := range req.Messages {
		for _, block := range msg.Content {
			switch block.Type {
			case schema.ContentTypeText:
				total += countText(block.Text)
			default:
				total += len(block.Input) / 4
			}
		}
		for _, call := range msg.ToolCalls {
			total += countText(call.Function.Name)
			total += len(call.Function.Arguments) / 4
		}
	}
	for _, tool := range req.Tools {
		total += countText(tool.Function.Name)
		total += countText(tool.Function.Description)
		total += len(tool.Function.Parameters) / 4
	}
	return total
}

func countText(s string) int {
	if s == "" {
		return 0
	}
	if encoder != nil {
		if ids, _, err := encoder.Encode(s); err == nil {
			return len(ids)
		}
	}
	return len(s) / 4
}
