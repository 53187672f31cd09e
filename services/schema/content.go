package schema

import "encoding/json"

// ContentType enumerates the block types a message can carry.
type ContentType string

const (
	ContentTypeText       ContentType = "text"
	ContentTypeToolUse    ContentType = "tool_use"
	ContentTypeToolResult ContentType = "tool_result"
)

// ContentBlock is one unit of message content. Only the fields matching
// the block type are set.
type ContentBlock struct {
	Type ContentType `json:"type"`

	// Text content, for text blocks
	Text string `json:"text,omitempty"`

	// ID of the tool invocation, for tool_use blocks. Preserved
	// verbatim across format translation.
	ID string `json:"id,omitempty"`

	// Name of the tool being invoked, for tool_use blocks
	Name string `json:"name,omitempty"`

	// Input is the structured tool input, for tool_use blocks
	Input json.RawMessage `json:"input,omitempty"`

	// ToolUseID links a tool_result block to its invocation
	ToolUseID string `json:"tool_use_id,omitempty"`
}

// ToolCallType identifies the kind of tool call. Providers currently
// only define function calls.
type ToolCallType string

const (
	ToolCallTypeFunction ToolCallType = "function"
)

// ToolCall is a tool invocation in the OpenAI-style representation.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     ToolCallType `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction names the function being called and carries its
// arguments as string-encoded JSON.
type ToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool declares a tool the model may invoke.
type Tool struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes a callable function.
type FunctionDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}
