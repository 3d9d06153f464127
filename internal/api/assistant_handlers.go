package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/nsn-sourcing/internal/llm/openrouter"
)

// Assistant reads and answers supplier correspondence.
type Assistant interface {
	ClassifyThread(ctx context.Context, thread []openrouter.ThreadMessage) (openrouter.Stage, error)
	DraftReply(ctx context.Context, thread []openrouter.ThreadMessage, stage openrouter.Stage, facts map[string]string) (string, error)
	ExtractQuote(ctx context.Context, text string) (openrouter.Quote, error)
}

// AssistantHandler serves the correspondence helpers under /v1/assistant.
type AssistantHandler struct {
	assistant Assistant
	logger    *zap.Logger
}

// NewAssistantHandler wires the assistant. Without one every route answers 503.
func NewAssistantHandler(assistant Assistant, logger *zap.Logger) *AssistantHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssistantHandler{assistant: assistant, logger: logger}
}

type threadRequest struct {
	Thread  []openrouter.ThreadMessage `json:"thread"`
	Stage   string                     `json:"stage"`
	Context map[string]string          `json:"context"`
}

// Classify handles POST /v1/assistant/classify with {"thread": [...]}.
func (h *AssistantHandler) Classify(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeThread(w, r)
	if !ok {
		return
	}
	stage, err := h.assistant.ClassifyThread(r.Context(), req.Thread)
	if err != nil {
		h.logger.Error("Classify thread failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "classification failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stage": stage})
}

// Reply handles POST /v1/assistant/reply. A missing stage is classified first.
func (h *AssistantHandler) Reply(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeThread(w, r)
	if !ok {
		return
	}
	stage := openrouter.Stage(strings.TrimSpace(req.Stage))
	if stage == "" {
		var err error
		if stage, err = h.assistant.ClassifyThread(r.Context(), req.Thread); err != nil {
			h.logger.Error("Classify thread failed", zap.Error(err))
			writeError(w, http.StatusBadGateway, "classification failed")
			return
		}
	} else {
		stage = openrouter.MatchStage(string(stage))
	}
	draft, err := h.assistant.DraftReply(r.Context(), req.Thread, stage, req.Context)
	if err != nil {
		h.logger.Error("Draft reply failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "drafting failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stage": stage, "draft": draft})
}

// Quote handles POST /v1/assistant/quote with {"text": "..."}.
func (h *AssistantHandler) Quote(w http.ResponseWriter, r *http.Request) {
	if h.assistant == nil {
		writeError(w, http.StatusServiceUnavailable, "assistant unavailable")
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBatchBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	quote, err := h.assistant.ExtractQuote(r.Context(), req.Text)
	if err != nil {
		h.logger.Error("Extract quote failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "quote extraction failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quote": quote})
}

func (h *AssistantHandler) decodeThread(w http.ResponseWriter, r *http.Request) (threadRequest, bool) {
	var req threadRequest
	if h.assistant == nil {
		writeError(w, http.StatusServiceUnavailable, "assistant unavailable")
		return req, false
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBatchBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return req, false
	}
	if len(req.Thread) == 0 {
		writeError(w, http.StatusBadRequest, "thread is required")
		return req, false
	}
	return req, true
}
