package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/libreai/aigate/internal/chat"
	"github.com/libreai/aigate/internal/log"
	"github.com/libreai/aigate/internal/provider"
)

// maxRequestBody caps JSON request bodies at 1MB.
const maxRequestBody = 1 << 20

// Orchestrator is the generation surface the chat handler drives.
type Orchestrator interface {
	StreamChat(ctx context.Context, req chat.Request, bridge *chat.Bridge) error
	Text(ctx context.Context, req chat.Request) (*provider.ChatResult, error)
	Image(ctx context.Context, modelID, prompt string) (*provider.ImageResult, error)
	ClearConversation(ctx context.Context, conversationID string) error
}

// chatHandler serves the generation endpoints.
//
// Endpoints:
//   - POST /api/chat/completions       - Streaming chat (SSE)
//   - POST /api/chat/text              - Blocking chat (JSON)
//   - POST /api/chat/image             - Image generation (JSON)
//   - DELETE /api/conversations/{id}   - Drop conversation history
type chatHandler struct {
	orchestrator Orchestrator
	logger       log.Logger
}

// SSE event types for chat streaming.
const (
	eventToken = "token"
	eventDone  = "done"
	eventError = "error"
)

// tokenPayload is the SSE data payload for one partial token.
type tokenPayload struct {
	Token string `json:"token"`
}

// chatRequest is the JSON body of the chat endpoints.
type chatRequest struct {
	ConversationID string   `json:"conversationId"`
	ModelID        string   `json:"modelId"`
	Prompt         string   `json:"prompt"`
	SystemPrompt   string   `json:"systemPrompt"`
	KnowledgeIDs   []string `json:"knowledgeIds"`
}

func (cr chatRequest) validate() error {
	if cr.ConversationID == "" {
		return fmt.Errorf("conversationId is required")
	}
	if cr.ModelID == "" {
		return fmt.Errorf("modelId is required")
	}
	if cr.Prompt == "" {
		return fmt.Errorf("prompt is required")
	}
	return nil
}

func (cr chatRequest) toRequest() chat.Request {
	return chat.Request{
		ConversationID: cr.ConversationID,
		ModelID:        cr.ModelID,
		Prompt:         cr.Prompt,
		SystemPrompt:   cr.SystemPrompt,
		KnowledgeIDs:   cr.KnowledgeIDs,
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// completions handles SSE streaming chat requests. Tokens are flushed as
// the provider produces them; the stream always ends with exactly one done
// or error event.
func (h *chatHandler) completions(w http.ResponseWriter, r *http.Request) {
	// Reject bad requests with plain JSON before any SSE bytes go out;
	// the stream only starts once the request is accepted.
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), h.logger)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), h.logger)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ctx := r.Context()
	h.logger.Debug("stream started", "conversation_id", req.ConversationID, "model_id", req.ModelID)

	bridge := chat.NewBridge(ctx)
	go func() {
		// Failures surface as the bridge's terminal error frame.
		_ = h.orchestrator.StreamChat(ctx, req.toRequest(), bridge)
	}()

	for frame := range bridge.Frames() {
		var err error
		switch frame.Type {
		case chat.FrameToken:
			err = writeEvent(w, flusher, eventToken, tokenPayload{Token: frame.Token})
		case chat.FrameDone:
			err = writeEvent(w, flusher, eventDone, frame.Done)
		case chat.FrameError:
			_, code := classify(frame.Err)
			err = writeEvent(w, flusher, eventError, ErrorBody{Code: code, Message: frame.Err.Error()})
		}
		if err != nil {
			// Write failure usually means the client disconnected; the
			// cancelled request context unblocks the producer.
			h.logger.Debug("stream write failed", "error", err)
			return
		}
	}

	h.logger.Debug("stream completed", "conversation_id", req.ConversationID)
}

// textResponse is the JSON body of the blocking chat endpoint.
type textResponse struct {
	Text           string         `json:"text"`
	FinishReason   string         `json:"finishReason"`
	Usage          provider.Usage `json:"usage"`
	ConversationID string         `json:"conversationId"`
}

func (h *chatHandler) text(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), h.logger)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), h.logger)
		return
	}

	result, err := h.orchestrator.Text(r.Context(), req.toRequest())
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, textResponse{
		Text:           result.Text,
		FinishReason:   result.FinishReason,
		Usage:          result.Usage,
		ConversationID: req.ConversationID,
	}, h.logger)
}

// imageRequest is the JSON body of the image endpoint.
type imageRequest struct {
	ModelID string `json:"modelId"`
	Prompt  string `json:"prompt"`
}

// imageResponse carries either a hosted URL or inline base64 data.
type imageResponse struct {
	URL string `json:"url,omitempty"`
	B64 string `json:"b64,omitempty"`
}

func (h *chatHandler) image(w http.ResponseWriter, r *http.Request) {
	var req imageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), h.logger)
		return
	}
	if req.ModelID == "" || req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "modelId and prompt are required", h.logger)
		return
	}

	result, err := h.orchestrator.Image(r.Context(), req.ModelID, req.Prompt)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, imageResponse{URL: result.URL, B64: result.B64}, h.logger)
}

func (h *chatHandler) clearConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "conversation id is required", h.logger)
		return
	}

	if err := h.orchestrator.ClearConversation(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared", "conversationId": id}, h.logger)
}

// writeEvent writes a single SSE event with JSON-encoded data.
// SSE format: "event: <type>\ndata: <json>\n\n"
func writeEvent(w io.Writer, flusher http.Flusher, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	flusher.Flush()
	return nil
}
