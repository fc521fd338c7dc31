package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/biava/llmgate/internal/admission"
	"github.com/biava/llmgate/internal/event"
	"github.com/biava/llmgate/internal/registry"
	"github.com/biava/llmgate/internal/repository"
	"github.com/biava/llmgate/internal/upstream"
)

// Default request validation bounds.
const (
	DefaultMaxMessages     = 50
	DefaultMaxContentChars = 32000
)

const upstreamAdvice = "check that the model server is running and try reducing the request size"

// chatRequest is the inbound request shape.
type chatRequest struct {
	Messages    []upstream.Message `json:"messages"`
	ModelParams *upstream.Params   `json:"modelParams,omitempty"`
}

// errorResponse is the non-streaming rejection shape.
type errorResponse struct {
	Error  string `json:"error"`
	Advice string `json:"advice,omitempty"`
}

// ChatHandler serves the streaming chat endpoint: admission, lifecycle
// tracking, and re-framing of the upstream token stream.
type ChatHandler struct {
	adapter         upstream.Adapter
	limiter         *admission.Limiter
	registry        *registry.Registry
	requestLogs     repository.RequestLogRepository
	logger          *slog.Logger
	model           string
	maxMessages     int
	maxContentChars int
}

// ChatHandlerConfig holds dependencies for the chat handler. RequestLogs is
// optional; when nil no audit records are written.
type ChatHandlerConfig struct {
	Adapter         upstream.Adapter
	Limiter         *admission.Limiter
	Registry        *registry.Registry
	RequestLogs     repository.RequestLogRepository
	Logger          *slog.Logger
	Model           string
	MaxMessages     int
	MaxContentChars int
}

// NewChatHandler creates a chat handler
func NewChatHandler(cfg ChatHandlerConfig) *ChatHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxMessages := cfg.MaxMessages
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	maxContentChars := cfg.MaxContentChars
	if maxContentChars <= 0 {
		maxContentChars = DefaultMaxContentChars
	}
	return &ChatHandler{
		adapter:         cfg.Adapter,
		limiter:         cfg.Limiter,
		registry:        cfg.Registry,
		requestLogs:     cfg.RequestLogs,
		logger:          logger,
		model:           cfg.Model,
		maxMessages:     maxMessages,
		maxContentChars: maxContentChars,
	}
}

// HandleChat handles POST /v1/chat: validates the request, admits it, and
// streams the upstream response back as newline-delimited event records.
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	if len(req.Messages) == 0 || len(req.Messages) > h.maxMessages {
		writeError(w, http.StatusBadRequest, "invalid or too many messages", "")
		return
	}

	promptChars := 0
	for _, m := range req.Messages {
		promptChars += len(m.Content)
	}
	if promptChars > h.maxContentChars {
		writeError(w, http.StatusBadRequest, "total content size exceeds limit", "")
		return
	}

	clientID := clientIP(r)
	if !h.limiter.Allow(clientID) {
		h.logger.Warn("request rejected by rate limit", "client", clientID)
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded, please try again later", "")
		return
	}

	// The registry context is cancelled when the client disconnects, when
	// the request is cancelled by id, or on server shutdown.
	id, ctx, _ := h.registry.Register(r.Context())
	defer h.registry.Complete(id)

	params := upstream.Params{}
	if req.ModelParams != nil {
		params = *req.ModelParams
	}

	events, err := h.adapter.Produce(ctx, req.Messages, params)
	if err != nil {
		h.logger.Error("upstream request failed", "request_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error(), upstreamAdvice)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Gateway-Request-ID", id)
	w.WriteHeader(http.StatusOK)

	started := time.Now()
	fw := event.NewWriter(w)
	status := repository.StatusCanceled
	errMsg := ""
	contentChars, reasoningChars := 0, 0
	for ev := range events {
		switch ev.Kind {
		case event.KindContentDelta:
			contentChars += len(ev.Text)
		case event.KindReasoningDelta:
			reasoningChars += len(ev.Text)
		case event.KindError:
			status = repository.StatusError
			errMsg = ev.Text
		case event.KindEnd:
			status = repository.StatusCompleted
		}
		if err := fw.Write(ev); err != nil {
			// Client is gone; the deferred Complete releases the entry
			// and cancels the upstream via ctx.
			h.logger.Warn("client write failed", "request_id", id, "error", err)
			status = repository.StatusCanceled
			break
		}
	}

	h.recordRequest(id, clientID, status, errMsg, len(req.Messages), promptChars, contentChars, reasoningChars, started)
}

// HandleCancel handles DELETE /v1/requests/{id}, aborting an in-flight
// request by its gateway-assigned id.
func (h *ChatHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request id", "")
		return
	}
	if !h.registry.Cancel(id) {
		writeError(w, http.StatusNotFound, "no such in-flight request", "")
		return
	}
	h.logger.Info("request cancelled", "request_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// recordRequest writes one audit record, off the request path. The record
// carries sizes and outcome only, never conversation content.
func (h *ChatHandler) recordRequest(id, clientID, status, errMsg string, messages, promptChars, contentChars, reasoningChars int, started time.Time) {
	if h.requestLogs == nil {
		return
	}
	rec := &repository.RequestLog{
		ID:             uuid.MustParse(id),
		ClientID:       clientID,
		Model:          h.model,
		Status:         status,
		ErrorMessage:   errMsg,
		MessageCount:   messages,
		PromptChars:    promptChars,
		ContentChars:   contentChars,
		ReasoningChars: reasoningChars,
		CreatedAt:      started,
		CompletedAt:    time.Now(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.requestLogs.Create(ctx, rec); err != nil {
			h.logger.Warn("failed to write request log", "request_id", id, "error", err)
		}
	}()
}

// clientIP extracts the admission key for a request. RealIP middleware has
// already folded X-Forwarded-For into RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeError(w http.ResponseWriter, status int, msg, advice string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: msg, Advice: advice})
}
