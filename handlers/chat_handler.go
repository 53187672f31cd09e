package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/upb/llm-proxy/services/schema"
	"github.com/upb/llm-proxy/services/session"
	"github.com/upb/llm-proxy/utils"
	"go.uber.org/zap"
)

// ChatCompletionRequest is the OpenAI-compatible request body accepted
// at the proxy edge. Message content may be a plain string or an array
// of content blocks.
type ChatCompletionRequest struct {
	Model       string        `json:"model" validate:"required"`
	Messages    []ChatMessage `json:"messages" validate:"required,min=1"`
	Temperature *float64      `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	MaxTokens   int           `json:"max_tokens,omitempty" validate:"omitempty,gt=0"`
	Stream      bool          `json:"stream,omitempty"`
	Tools       []schema.Tool `json:"tools,omitempty"`
	Thinking    bool          `json:"thinking,omitempty"`
	WebSearch   bool          `json:"web_search,omitempty"`
}

// ChatMessage is a single inbound message with a polymorphic content
// field.
type ChatMessage struct {
	Role       string            `json:"role" validate:"required,oneof=system user assistant tool"`
	Content    json.RawMessage   `json:"content,omitempty"`
	ToolCalls  []schema.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
}

// blocks decodes the polymorphic content field into content blocks.
func (m ChatMessage) blocks() ([]schema.ContentBlock, error) {
	if len(m.Content) == 0 {
		return nil, nil
	}
	var text string
	if err := json.Unmarshal(m.Content, &text); err == nil {
		return []schema.ContentBlock{{Type: schema.ContentTypeText, Text: text}}, nil
	}
	var blocks []schema.ContentBlock
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return nil, fmt.Errorf("message content must be a string or a block array: %w", err)
	}
	return blocks, nil
}

// CompletionService is the pipeline surface the handler depends on.
type CompletionService interface {
	Execute(ctx context.Context, req schema.StandardRequest) (*schema.StandardResponse, error)
	ExecuteStream(ctx context.Context, req schema.StandardRequest) (<-chan schema.StreamChunk, error)
}

// ChatHandler handles chat completion HTTP requests
type ChatHandler struct {
	service  CompletionService
	sessions session.Store
	logger   *zap.Logger
}

// NewChatHandler creates a new ChatHandler
func NewChatHandler(service CompletionService, sessions session.Store, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		service:  service,
		sessions: sessions,
		logger:   logger,
	}
}

// HandleChatCompletion handles POST /v1/chat/completions
func (h *ChatHandler) HandleChatCompletion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var chatReq ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&chatReq); err != nil {
		h.logger.Warn("failed to parse request body", zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&chatReq); err != nil {
		h.logger.Warn("request validation failed", zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return
	}

	req, err := h.toStandardRequest(chatReq, r)
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	if chatReq.Stream {
		h.streamCompletion(ctx, w, req)
		return
	}

	resp, err := h.service.Execute(ctx, req)
	if err != nil {
		h.logger.Error("chat completion failed",
			zap.String("model", req.Model),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	h.recordSession(ctx, req.SessionID, resp.ID)

	h.logger.Info("chat completion successful",
		zap.String("response_id", resp.ID),
		zap.String("provider", resp.Provider),
		zap.String("model", resp.Model))

	if err := utils.WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// toStandardRequest converts the wire request into the unified form.
// System messages fold into the out-of-band system prompt.
func (h *ChatHandler) toStandardRequest(chatReq ChatCompletionRequest, r *http.Request) (schema.StandardRequest, error) {
	req := schema.StandardRequest{
		Model:       chatReq.Model,
		Temperature: chatReq.Temperature,
		MaxTokens:   chatReq.MaxTokens,
		Stream:      chatReq.Stream,
		Tools:       chatReq.Tools,
		SessionID:   r.Header.Get("X-Session-ID"),
		Metadata: schema.RequestMetadata{
			OriginalFormat: "openai",
			Thinking:       chatReq.Thinking,
			WebSearch:      chatReq.WebSearch,
		},
	}

	for i, msg := range chatReq.Messages {
		blocks, err := msg.blocks()
		if err != nil {
			return schema.StandardRequest{}, fmt.Errorf("message %d: %w", i, err)
		}
		if msg.Role == "system" {
			for _, block := range blocks {
				if block.Type == schema.ContentTypeText {
					req.System += block.Text
				}
			}
			continue
		}
		req.Messages = append(req.Messages, schema.Message{
			Role:       msg.Role,
			Content:    blocks,
			ToolCalls:  msg.ToolCalls,
			ToolCallID: msg.ToolCallID,
		})
	}
	if len(req.Messages) == 0 {
		return schema.StandardRequest{}, fmt.Errorf("at least one non-system message is required")
	}
	return req, nil
}

// streamCompletion writes the response as server-sent events. Once the
// stream opens, failures arrive as error chunks; the status line is
// already committed.
func (h *ChatHandler) streamCompletion(ctx context.Context, w http.ResponseWriter, req schema.StandardRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		_ = utils.WriteInternalServerError(w, "Streaming not supported")
		return
	}

	chunks, err := h.service.ExecuteStream(ctx, req)
	if err != nil {
		h.logger.Error("failed to open stream",
			zap.String("model", req.Model),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for chunk := range chunks {
		payload, err := json.Marshal(chunk)
		if err != nil {
			h.logger.Error("failed to encode stream chunk", zap.Error(err))
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			h.logger.Debug("client went away mid-stream", zap.Error(err))
			return
		}
		flusher.Flush()
	}

	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// recordSession stores the completion id under the client session key.
// Session storage is best-effort; a store failure never fails the
// request.
func (h *ChatHandler) recordSession(ctx context.Context, sessionID, responseID string) {
	if sessionID == "" || h.sessions == nil {
		return
	}
	if err := h.sessions.Set(ctx, sessionID, responseID); err != nil {
		h.logger.Warn("failed to record session",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
}
