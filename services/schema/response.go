package schema

// Finish reasons in the unified representation. Provider-specific
// values ("stop", "tool_calls", "length", ...) are mapped onto these
// when a response is parsed.
const (
	FinishEndTurn      = "end_turn"
	FinishToolUse      = "tool_use"
	FinishMaxTokens    = "max_tokens"
	FinishStopSequence = "stop_sequence"
)

// StandardResponse is the provider-agnostic chat completion response.
type StandardResponse struct {
	// ID uniquely identifies this completion
	ID string `json:"id"`

	// Model that produced the completion
	Model string `json:"model,omitempty"`

	// Created is a Unix timestamp for when the completion was made
	Created int64 `json:"created,omitempty"`

	// Choices contains the completion results
	Choices []Choice `json:"choices"`

	// Usage statistics, when the provider reported them
	Usage *Usage `json:"usage,omitempty"`

	// Provider that handled the request
	Provider string `json:"provider,omitempty"`
}

// Choice represents one completion alternative.
type Choice struct {
	// Index of this choice
	Index int `json:"index"`

	// Message contains the response content
	Message Message `json:"message"`

	// FinishReason indicates why the completion finished, using the
	// unified finish-reason constants
	FinishReason string `json:"finish_reason"`
}

// Usage represents token usage statistics.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunkType enumerates streaming event kinds.
type StreamChunkType string

const (
	StreamChunkDelta StreamChunkType = "delta"
	StreamChunkDone  StreamChunkType = "done"
	StreamChunkError StreamChunkType = "error"
)

// StreamChunk is one unit of a streaming response. Chunks form a lazy,
// finite, non-restartable sequence: the producer closes the channel
// after the final chunk.
type StreamChunk struct {
	Type StreamChunkType `json:"type"`

	// Delta is incremental text content
	Delta string `json:"delta,omitempty"`

	// ToolCalls carries the incremental tool invocations of this
	// event; a single event may open several
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// FinishReason is set on the final delta of a choice
	FinishReason string `json:"finish_reason,omitempty"`

	// Usage is set on the terminal chunk when the provider reports it
	Usage *Usage `json:"usage,omitempty"`

	// Err describes a mid-stream failure; only set on error chunks
	Err string `json:"error,omitempty"`
}
