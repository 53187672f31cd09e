package schema

// StandardRequest is the provider-agnostic chat completion request.
// It is created once at the client layer boundary and passed by value
// through each pipeline stage; stages never mutate a request they
// received, they produce a new value instead.
type StandardRequest struct {
	// ID uniquely identifies this request across the pipeline
	ID string `json:"id"`

	// Model is the model name the client asked for. This may be a
	// virtual model name; routing decides the concrete model.
	Model string `json:"model" validate:"required"`

	// Messages in the conversation, in client order
	Messages []Message `json:"messages" validate:"required,min=1"`

	// System is an optional system prompt kept separate from Messages
	// because some provider formats carry it out of band
	System string `json:"system,omitempty"`

	// Temperature controls randomness (0.0 to 2.0)
	Temperature *float64 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`

	// MaxTokens limits the response length
	MaxTokens int `json:"max_tokens,omitempty" validate:"omitempty,gt=0"`

	// Stream enables streaming responses
	Stream bool `json:"stream,omitempty"`

	// Tools the model may invoke
	Tools []Tool `json:"tools,omitempty"`

	// SessionID is an opaque identifier supplied by session control.
	// The core only carries it; it never interprets it.
	SessionID string `json:"-"`

	// Metadata carries routing and translation state for this request
	Metadata RequestMetadata `json:"metadata"`
}

// RequestMetadata records where a request came from and where it is
// going. Each field has a fixed meaning; provider-specific knobs do not
// belong here.
type RequestMetadata struct {
	// OriginalFormat is the wire format the client spoke
	OriginalFormat string `json:"original_format,omitempty"`

	// TargetFormat is the wire format of the selected provider
	TargetFormat string `json:"target_format,omitempty"`

	// Provider is the selected provider name, set after routing
	Provider string `json:"provider,omitempty"`

	// Category is the routing category the request was classified into
	Category string `json:"category,omitempty"`

	// Thinking marks requests the client flagged for extended reasoning
	Thinking bool `json:"thinking,omitempty"`

	// WebSearch marks requests the client flagged for web search
	WebSearch bool `json:"web_search,omitempty"`
}

// Message is a single conversation turn.
type Message struct {
	// Role can be "system", "user", "assistant", or "tool"
	Role string `json:"role" validate:"required"`

	// Content holds the ordered content blocks of this turn
	Content []ContentBlock `json:"content"`

	// ToolCalls lists tool invocations made by an assistant turn
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool-role message to the invocation it answers
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// Text returns the concatenated text blocks of the message.
func (m Message) Text() string {
	var out string
	for _, block := range m.Content {
		if block.Type == ContentTypeText {
			out += block.Text
		}
	}
	return out
}

// HasToolUse reports whether the message carries a tool invocation,
// either as a tool_use content block or as a tool call entry.
func (m Message) HasToolUse() bool {
	if len(m.ToolCalls) > 0 {
		return true
	}
	for _, block := range m.Content {
		if block.Type == ContentTypeToolUse {
			return true
		}
	}
	return false
}

// TextMessage builds a message with a single text block.
func TextMessage(role, text string) Message {
	return Message{
		Role:    role,
		Content: []ContentBlock{{Type: ContentTypeText, Text: text}},
	}
}
