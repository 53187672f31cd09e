package transform

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/llm-proxy/services"
	"github.com/upb/llm-proxy/services/schema"
)

func TestAnthropic_BuildRequest_SystemOutOfBand(t *testing.T) {
	tr, err := New(FormatAnthropic)
	require.NoError(t, err)

	body, err := tr.BuildRequest(schema.StandardRequest{
		Model:  "claude-sonnet-4",
		System: "be terse",
		Messages: []schema.Message{
			schema.TextMessage("user", "hello"),
		},
	})
	require.NoError(t, err)

	var wire anthropicRequest
	require.NoError(t, json.Unmarshal(body, &wire))
	assert.Equal(t, "be terse", wire.System)
	require.Len(t, wire.Messages, 1)
	assert.Equal(t, "user", wire.Messages[0].Role)
}

func TestAnthropic_BuildRequest_DefaultMaxTokens(t *testing.T) {
	tr, err := New(FormatAnthropic)
	require.NoError(t, err)

	body, err := tr.BuildRequest(schema.StandardRequest{
		Model:    "claude-sonnet-4",
		Messages: []schema.Message{schema.TextMessage("user", "hi")},
	})
	require.NoError(t, err)

	var wire anthropicRequest
	require.NoError(t, json.Unmarshal(body, &wire))
	assert.Equal(t, anthropicDefaultMaxTokens, wire.MaxTokens)

	body, err = tr.BuildRequest(schema.StandardRequest{
		Model:     "claude-sonnet-4",
		MaxTokens: 512,
		Messages:  []schema.Message{schema.TextMessage("user", "hi")},
	})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, &wire))
	assert.Equal(t, 512, wire.MaxTokens)
}

func TestAnthropic_BuildRequest_ToolRoleBecomesUser(t *testing.T) {
	tr, err := New(FormatAnthropic)
	require.NoError(t, err)

	body, err := tr.BuildRequest(schema.StandardRequest{
		Model: "claude-sonnet-4",
		Messages: []schema.Message{
			{
				Role:       "tool",
				ToolCallID: "call_abc",
				Content:    []schema.ContentBlock{{Type: schema.ContentTypeText, Text: "42"}},
			},
		},
	})
	require.NoError(t, err)

	var wire anthropicRequest
	require.NoError(t, json.Unmarshal(body, &wire))
	require.Len(t, wire.Messages, 1)
	assert.Equal(t, "user", wire.Messages[0].Role)
	require.Len(t, wire.Messages[0].Content, 1)
	block := wire.Messages[0].Content[0]
	assert.Equal(t, "tool_result", block.Type)
	assert.Equal(t, "call_abc", block.ToolUseID)
	assert.Equal(t, "42", block.Content)
}

func TestAnthropic_BuildRequest_ToolUseKeepsStructuredInput(t *testing.T) {
	tr, err := New(FormatAnthropic)
	require.NoError(t, err)

	body, err := tr.BuildRequest(schema.StandardRequest{
		Model: "claude-sonnet-4",
		Messages: []schema.Message{
			{
				Role: "assistant",
				Content: []schema.ContentBlock{{
					Type:  schema.ContentTypeToolUse,
					ID:    "toolu_1",
					Name:  "calculator",
					Input: json.RawMessage(`{"x": 1}`),
				}},
			},
		},
	})
	require.NoError(t, err)

	var wire anthropicRequest
	require.NoError(t, json.Unmarshal(body, &wire))
	block := wire.Messages[0].Content[0]
	assert.Equal(t, "tool_use", block.Type)
	assert.Equal(t, "toolu_1", block.ID)
	assert.JSONEq(t, `{"x":1}`, string(block.Input))
}

func TestAnthropic_BuildRequest_OpenAIStyleToolCallsConvert(t *testing.T) {
	tr, err := New(FormatAnthropic)
	require.NoError(t, err)

	body, err := tr.BuildRequest(schema.StandardRequest{
		Model: "claude-sonnet-4",
		Messages: []schema.Message{
			{
				Role: "assistant",
				ToolCalls: []schema.ToolCall{{
					ID:   "call_1",
					Type: schema.ToolCallTypeFunction,
					Function: schema.ToolFunction{
						Name:      "lookup",
						Arguments: `{"q":"go"}`,
					},
				}},
			},
		},
	})
	require.NoError(t, err)

	var wire anthropicRequest
	require.NoError(t, json.Unmarshal(body, &wire))
	block := wire.Messages[0].Content[0]
	assert.Equal(t, "tool_use", block.Type)
	assert.Equal(t, "call_1", block.ID)
	assert.JSONEq(t, `{"q":"go"}`, string(block.Input))
}

func TestAnthropic_BuildRequest_InvalidToolArgumentsFail(t *testing.T) {
	tr, err := New(FormatAnthropic)
	require.NoError(t, err)

	_, err = tr.BuildRequest(schema.StandardRequest{
		Model: "claude-sonnet-4",
		Messages: []schema.Message{
			{
				Role: "assistant",
				ToolCalls: []schema.ToolCall{{
					ID:       "call_1",
					Function: schema.ToolFunction{Name: "lookup", Arguments: `{not json`},
				}},
			},
		},
	})
	require.Error(t, err)
	assert.Equal(t, services.CodePipelineExecutionFailed, services.GetCode(err))
}

func TestAnthropic_BuildRequest_Tools(t *testing.T) {
	tr, err := New(FormatAnthropic)
	require.NoError(t, err)

	body, err := tr.BuildRequest(schema.StandardRequest{
		Model:    "claude-sonnet-4",
		Messages: []schema.Message{schema.TextMessage("user", "hi")},
		Tools: []schema.Tool{{
			Type: "function",
			Function: schema.FunctionDefinition{
				Name:        "calculator",
				Description: "does math",
				Parameters:  json.RawMessage(`{"type":"object"}`),
			},
		}},
	})
	require.NoError(t, err)

	var wire anthropicRequest
	require.NoError(t, json.Unmarshal(body, &wire))
	require.Len(t, wire.Tools, 1)
	assert.Equal(t, "calculator", wire.Tools[0].Name)
	assert.JSONEq(t, `{"type":"object"}`, string(wire.Tools[0].InputSchema))
}

func TestAnthropic_ParseResponse(t *testing.T) {
	tr, err := New(FormatAnthropic)
	require.NoError(t, err)

	raw := json.RawMessage(`{
		"id": "msg_01",
		"model": "claude-sonnet-4",
		"content": [
			{"type": "text", "text": "the answer is "},
			{"type": "tool_use", "id": "toolu_9", "name": "calculator", "input": {"x": 2}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 12, "output_tokens": 5}
	}`)

	resp, err := tr.ParseResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, "msg_01", resp.ID)
	require.Len(t, resp.Choices, 1)

	msg := resp.Choices[0].Message
	assert.Equal(t, "assistant", msg.Role)
	require.Len(t, msg.Content, 2)
	assert.Equal(t, "the answer is ", msg.Content[0].Text)
	assert.Equal(t, schema.ContentTypeToolUse, msg.Content[1].Type)
	assert.Equal(t, "toolu_9", msg.Content[1].ID)

	assert.Equal(t, schema.FinishToolUse, resp.Choices[0].FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 12, resp.Usage.PromptTokens)
	assert.Equal(t, 5, resp.Usage.CompletionTokens)
	assert.Equal(t, 17, resp.Usage.TotalTokens)
}

func TestAnthropic_ParseResponse_Malformed(t *testing.T) {
	tr, err := New(FormatAnthropic)
	require.NoError(t, err)

	_, err = tr.ParseResponse(json.RawMessage(`[1,2`))
	require.Error(t, err)
	assert.Equal(t, services.CodePipelineAssemblyFailed, services.GetCode(err))
}

func TestAnthropic_ParseChunk(t *testing.T) {
	tr, err := New(FormatAnthropic)
	require.NoError(t, err)

	chunk, skip, err := tr.ParseChunk(json.RawMessage(`{"type":"content_block_delta","delta":{"type":"text_delta","text":"hel"}}`))
	require.NoError(t, err)
	assert.False(t, skip)
	assert.Equal(t, "hel", chunk.Delta)

	chunk, skip, err = tr.ParseChunk(json.RawMessage(`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":42}}`))
	require.NoError(t, err)
	assert.False(t, skip)
	assert.Equal(t, "end_turn", chunk.FinishReason)
	require.NotNil(t, chunk.Usage)
	assert.Equal(t, 42, chunk.Usage.CompletionTokens)

	for _, event := range []string{
		`{"type":"message_start"}`,
		`{"type":"ping"}`,
		`{"type":"content_block_stop"}`,
		`{"type":"message_stop"}`,
	} {
		_, skip, err := tr.ParseChunk(json.RawMessage(event))
		require.NoError(t, err)
		assert.True(t, skip, event)
	}
}

func TestAnthropic_ParseChunk_ToolUseStart(t *testing.T) {
	tr, err := New(FormatAnthropic)
	require.NoError(t, err)

	raw := json.RawMessage(`{"type":"content_block_start","content_block":{"type":"tool_use","id":"toolu_5","name":"lookup","input":{"q":"go"}}}`)
	chunk, skip, err := tr.ParseChunk(raw)
	require.NoError(t, err)
	assert.False(t, skip)
	require.Len(t, chunk.ToolCalls, 1)
	assert.Equal(t, "toolu_5", chunk.ToolCalls[0].ID)
	assert.Equal(t, "lookup", chunk.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"q":"go"}`, chunk.ToolCalls[0].Function.Arguments)
}
