package transform

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/upb/llm-proxy/services/schema"
	"go.uber.org/zap"
)

// DefaultFallbackModel is substituted when a provider response omits
// the model field.
const DefaultFallbackModel = "unknown"

// Warning records a repair the post-processor applied to a response.
type Warning struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// PostProcessor repairs provider responses into well-formed
// StandardResponses. Every repair is applied uniformly regardless of
// which provider produced the response, and the whole pass is
// idempotent: repairing an already-repaired response changes nothing.
type PostProcessor struct {
	fallbackModel string
	logger        *zap.Logger
}

// NewPostProcessor creates a post-processor. An empty fallbackModel
// selects DefaultFallbackModel.
func NewPostProcessor(fallbackModel string, logger *zap.Logger) *PostProcessor {
	if fallbackModel == "" {
		fallbackModel = DefaultFallbackModel
	}
	return &PostProcessor{fallbackModel: fallbackModel, logger: logger}
}

// Repair returns a repaired copy of the response together with the
// warnings describing each substitution. The input is not mutated.
func (p *PostProcessor) Repair(resp schema.StandardResponse) (schema.StandardResponse, []Warning) {
	var warnings []Warning

	if resp.ID == "" {
		resp.ID = "chatcmpl-" + uuid.NewString()
		warnings = append(warnings, Warning{Field: "id", Message: "missing id replaced with generated identifier"})
	}

	if resp.Model == "" {
		resp.Model = p.fallbackModel
		warnings = append(warnings, Warning{Field: "model", Message: "missing model replaced with fallback " + p.fallbackModel})
	}

	if resp.Created == 0 {
		resp.Created = time.Now().Unix()
	}

	choices := make([]schema.Choice, len(resp.Choices))
	for i, choice := range resp.Choices {
		choices[i] = p.repairChoice(choice, &warnings)
	}
	resp.Choices = choices

	for _, w := range warnings {
		p.logger.Warn("response repaired",
			zap.String("response_id", resp.ID),
			zap.String("field", w.Field),
			zap.String("reason", w.Message))
	}
	return resp, warnings
}

func (p *PostProcessor) repairChoice(choice schema.Choice, warnings *[]Warning) schema.Choice {
	msg := choice.Message

	blocks := make([]schema.ContentBlock, len(msg.Content))
	for i, block := range msg.Content {
		if block.Type == schema.ContentTypeToolUse && block.ID == "" {
			block.ID = generateToolCallID()
			*warnings = append(*warnings, Warning{Field: "content.id", Message: "tool_use block assigned generated id"})
		}
		blocks[i] = block
	}
	msg.Content = blocks

	calls := make([]schema.ToolCall, len(msg.ToolCalls))
	for i, call := range msg.ToolCalls {
		calls[i] = p.repairToolCall(call, warnings)
	}
	msg.ToolCalls = calls

	choice.Message = msg
	choice.FinishReason = ReconcileFinishReason(choice.FinishReason, msg.HasToolUse())
	return choice
}

// repairToolCall normalizes one tool-call entry: a generated id when
// absent, the function type when absent, and arguments as
// string-encoded JSON. Arguments that are not valid JSON are wrapped
// as {"raw_input": ...} rather than discarded.
func (p *PostProcessor) repairToolCall(call schema.ToolCall, warnings *[]Warning) schema.ToolCall {
	if call.ID == "" {
		call.ID = generateToolCallID()
		*warnings = append(*warnings, Warning{Field: "tool_calls.id", Message: "tool call assigned generated id"})
	}
	if call.Type == "" {
		call.Type = schema.ToolCallTypeFunction
	}
	call.Function.Arguments = normalizeArguments(call.Function.Arguments, warnings)
	return call
}

func normalizeArguments(arguments string, warnings *[]Warning) string {
	if arguments == "" {
		return "{}"
	}
	if json.Valid([]byte(arguments)) {
		return arguments
	}
	wrapped, err := json.Marshal(map[string]string{"raw_input": arguments})
	if err != nil {
		// A string always marshals; kept for completeness.
		return "{}"
	}
	*warnings = append(*warnings, Warning{Field: "tool_calls.arguments", Message: "non-JSON arguments wrapped as raw_input"})
	return string(wrapped)
}

// ReconcileFinishReason aligns a declared finish reason with the
// actual content: tool use present forces tool_use, tool use absent
// forbids it. Applying the reconciliation twice yields the same
// result.
func ReconcileFinishReason(reason string, hasToolUse bool) string {
	if hasToolUse && reason != schema.FinishToolUse {
		return schema.FinishToolUse
	}
	if !hasToolUse && reason == schema.FinishToolUse {
		return schema.FinishEndTurn
	}
	if reason == "" {
		return schema.FinishEndTurn
	}
	return reason
}

func generateToolCallID() string {
	return "call_" + uuid.NewString()
}
