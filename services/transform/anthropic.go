package transform

import (
	"encoding/json"

	"github.com/upb/llm-proxy/services"
	"github.com/upb/llm-proxy/services/schema"
)

// anthropicTransformer speaks the Anthropic messages wire schema. Tool
// input stays structured JSON on the wire; the unified string-encoded
// representation converts through the same round-trip validation as
// the OpenAI side.
type anthropicTransformer struct{}

func (anthropicTransformer) Format() Format { return FormatAnthropic }

// Anthropic requires max_tokens; used when the client left it unset.
const anthropicDefaultMaxTokens = 4096

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

func (t anthropicTransformer) BuildRequest(req schema.StandardRequest) (json.RawMessage, error) {
	out := anthropicRequest{
		Model:       req.Model,
		System:      req.System,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      req.Stream,
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = anthropicDefaultMaxTokens
	}

	for _, msg := range req.Messages {
		converted, err := t.convertMessage(msg)
		if err != nil {
			return nil, err
		}
		out.Messages = append(out.Messages, converted)
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, anthropicTool{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			InputSchema: tool.Function.Parameters,
		})
	}

	body, err := json.Marshal(out)
	if err != nil {
		return nil, services.NewProxyError(services.CodePipelineExecutionFailed,
			"failed to serialize anthropic request", err)
	}
	return body, nil
}

func (t anthropicTransformer) convertMessage(msg schema.Message) (anthropicMessage, error) {
	role := msg.Role
	// Anthropic has no tool role; results ride in a user turn.
	if role == "tool" {
		role = "user"
	}
	wire := anthropicMessage{Role: role}

	for _, block := range msg.Content {
		switch block.Type {
		case schema.ContentTypeText:
			wire.Content = append(wire.Content, anthropicBlock{Type: "text", Text: block.Text})
		case schema.ContentTypeToolUse:
			// Validate the input round-trips even though it stays
			// structured on this wire.
			encoded, err := encodeToolArguments(block.Input)
			if err != nil {
				return anthropicMessage{}, err
			}
			wire.Content = append(wire.Content, anthropicBlock{
				Type:  "tool_use",
				ID:    block.ID,
				Name:  block.Name,
				Input: json.RawMessage(encoded),
			})
		case schema.ContentTypeToolResult:
			wire.Content = append(wire.Content, anthropicBlock{
				Type:      "tool_result",
				ToolUseID: block.ToolUseID,
				Content:   block.Text,
			})
		}
	}

	for _, call := range msg.ToolCalls {
		input, err := structuredToolArguments(call.Function.Arguments)
		if err != nil {
			return anthropicMessage{}, err
		}
		wire.Content = append(wire.Content, anthropicBlock{
			Type:  "tool_use",
			ID:    call.ID,
			Name:  call.Function.Name,
			Input: input,
		})
	}

	if msg.ToolCallID != "" && len(wire.Content) == 1 && wire.Content[0].Type == "text" {
		wire.Content = []anthropicBlock{{
			Type:      "tool_result",
			ToolUseID: msg.ToolCallID,
			Content:   wire.Content[0].Text,
		}}
	}

	return wire, nil
}

type anthropicResponse struct {
	ID         string           `json:"id"`
	Model      string           `json:"model"`
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
	Usage      *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (t anthropicTransformer) ParseResponse(raw json.RawMessage) (schema.StandardResponse, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return schema.StandardResponse{}, services.NewProxyError(services.CodePipelineAssemblyFailed,
			"malformed anthropic response", err)
	}

	msg := schema.Message{Role: "assistant"}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			msg.Content = append(msg.Content, schema.ContentBlock{
				Type: schema.ContentTypeText,
				Text: block.Text,
			})
		case "tool_use":
			msg.Content = append(msg.Content, schema.ContentBlock{
				Type:  schema.ContentTypeToolUse,
				ID:    block.ID,
				Name:  block.Name,
				Input: block.Input,
			})
		}
	}

	out := schema.StandardResponse{
		ID:    resp.ID,
		Model: resp.Model,
		Choices: []schema.Choice{{
			Index:        0,
			Message:      msg,
			FinishReason: resp.StopReason,
		}},
	}
	if resp.Usage != nil {
		out.Usage = &schema.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		}
	}
	return out, nil
}

type anthropicEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	ContentBlock *anthropicBlock `json:"content_block"`
	Usage        *struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (t anthropicTransformer) ParseChunk(raw json.RawMessage) (schema.StreamChunk, bool, error) {
	var event anthropicEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return schema.StreamChunk{}, false, services.NewProxyError(services.CodePipelineAssemblyFailed,
			"malformed anthropic stream event", err)
	}

	switch event.Type {
	case "content_block_delta":
		return schema.StreamChunk{
			Type:  schema.StreamChunkDelta,
			Delta: event.Delta.Text,
		}, false, nil
	case "content_block_start":
		if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
			arguments, err := encodeToolArguments(event.ContentBlock.Input)
			if err != nil {
				return schema.StreamChunk{}, false, err
			}
			return schema.StreamChunk{
				Type: schema.StreamChunkDelta,
				ToolCalls: []schema.ToolCall{{
					ID:   event.ContentBlock.ID,
					Type: schema.ToolCallTypeFunction,
					Function: schema.ToolFunction{
						Name:      event.ContentBlock.Name,
						Arguments: arguments,
					},
				}},
			}, false, nil
		}
		return schema.StreamChunk{}, true, nil
	case "message_delta":
		chunk := schema.StreamChunk{
			Type:         schema.StreamChunkDelta,
			FinishReason: event.Delta.StopReason,
		}
		if event.Usage != nil {
			chunk.Usage = &schema.Usage{CompletionTokens: event.Usage.OutputTokens}
		}
		return chunk, false, nil
	default:
		// message_start, ping, content_block_stop, message_stop
		return schema.StreamChunk{}, true, nil
	}
}
