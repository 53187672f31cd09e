package transform

import (
	"encoding/json"

	"github.com/upb/llm-proxy/services"
	"github.com/upb/llm-proxy/services/schema"
)

// openAITransformer speaks the OpenAI chat-completions wire schema.
// Tool arguments travel as string-encoded JSON in both directions.
type openAITransformer struct{}

func (openAITransformer) Format() Format { return FormatOpenAI }

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Tools       []openAITool    `json:"tools,omitempty"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIToolCall struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAITool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	} `json:"function"`
}

func (t openAITransformer) BuildRequest(req schema.StandardRequest) (json.RawMessage, error) {
	out := openAIRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      req.Stream,
	}

	if req.System != "" {
		out.Messages = append(out.Messages, openAIMessage{Role: "system", Content: req.System})
	}

	for _, msg := range req.Messages {
		converted, err := t.convertMessage(msg)
		if err != nil {
			return nil, err
		}
		out.Messages = append(out.Messages, converted...)
	}

	for _, tool := range req.Tools {
		wire := openAITool{Type: "function"}
		wire.Function.Name = tool.Function.Name
		wire.Function.Description = tool.Function.Description
		wire.Function.Parameters = tool.Function.Parameters
		out.Tools = append(out.Tools, wire)
	}

	body, err := json.Marshal(out)
	if err != nil {
		return nil, services.NewProxyError(services.CodePipelineExecutionFailed,
			"failed to serialize openai request", err)
	}
	return body, nil
}

// convertMessage flattens one unified message into wire messages.
// Tool results become separate tool-role messages, preserving order.
func (t openAITransformer) convertMessage(msg schema.Message) ([]openAIMessage, error) {
	wire := openAIMessage{Role: msg.Role, ToolCallID: msg.ToolCallID}
	var results []openAIMessage

	for _, block := range msg.Content {
		switch block.Type {
		case schema.ContentTypeText:
			wire.Content += block.Text
		case schema.ContentTypeToolUse:
			arguments, err := encodeToolArguments(block.Input)
			if err != nil {
				return nil, err
			}
			wire.ToolCalls = append(wire.ToolCalls, openAIToolCall{
				ID:   block.ID,
				Type: "function",
				Function: openAIFunction{
					Name:      block.Name,
					Arguments: arguments,
				},
			})
		case schema.ContentTypeToolResult:
			results = append(results, openAIMessage{
				Role:       "tool",
				Content:    block.Text,
				ToolCallID: block.ToolUseID,
			})
		}
	}

	for _, call := range msg.ToolCalls {
		arguments, err := structuredToolArguments(call.Function.Arguments)
		if err != nil {
			return nil, err
		}
		wire.ToolCalls = append(wire.ToolCalls, openAIToolCall{
			ID:   call.ID,
			Type: string(call.Type),
			Function: openAIFunction{
				Name:      call.Function.Name,
				Arguments: string(arguments),
			},
		})
	}

	return append([]openAIMessage{wire}, results...), nil
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Index        int           `json:"index"`
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage *schema.Usage `json:"usage"`
}

func (t openAITransformer) ParseResponse(raw json.RawMessage) (schema.StandardResponse, error) {
	var resp openAIResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return schema.StandardResponse{}, services.NewProxyError(services.CodePipelineAssemblyFailed,
			"malformed openai response", err)
	}

	out := schema.StandardResponse{
		ID:      resp.ID,
		Model:   resp.Model,
		Created: resp.Created,
		Usage:   resp.Usage,
	}

	for _, choice := range resp.Choices {
		msg := schema.Message{Role: choice.Message.Role}
		if msg.Role == "" {
			msg.Role = "assistant"
		}
		if choice.Message.Content != "" {
			msg.Content = append(msg.Content, schema.ContentBlock{
				Type: schema.ContentTypeText,
				Text: choice.Message.Content,
			})
		}
		for _, call := range choice.Message.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{
				ID:   call.ID,
				Type: schema.ToolCallType(call.Type),
				Function: schema.ToolFunction{
					Name:      call.Function.Name,
					Arguments: call.Function.Arguments,
				},
			})
		}
		out.Choices = append(out.Choices, schema.Choice{
			Index:        choice.Index,
			Message:      msg,
			FinishReason: mapOpenAIFinishReason(choice.FinishReason),
		})
	}

	return out, nil
}

func mapOpenAIFinishReason(reason string) string {
	switch reason {
	case "stop":
		return schema.FinishEndTurn
	case "tool_calls", "function_call":
		return schema.FinishToolUse
	case "length":
		return schema.FinishMaxTokens
	default:
		return reason
	}
}

type openAIChunk struct {
	Choices []struct {
		Delta struct {
			Content   string           `json:"content"`
			ToolCalls []openAIToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *schema.Usage `json:"usage"`
}

func (t openAITransformer) ParseChunk(raw json.RawMessage) (schema.StreamChunk, bool, error) {
	var chunk openAIChunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return schema.StreamChunk{}, false, services.NewProxyError(services.CodePipelineAssemblyFailed,
			"malformed openai stream chunk", err)
	}

	out := schema.StreamChunk{Type: schema.StreamChunkDelta, Usage: chunk.Usage}
	if len(chunk.Choices) == 0 {
		return out, chunk.Usage == nil, nil
	}

	choice := chunk.Choices[0]
	out.Delta = choice.Delta.Content
	for _, call := range choice.Delta.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, schema.ToolCall{
			ID:   call.ID,
			Type: schema.ToolCallType(call.Type),
			Function: schema.ToolFunction{
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
			},
		})
	}
	out.FinishReason = mapOpenAIFinishReason(choice.FinishReason)
	return out, false, nil
}
