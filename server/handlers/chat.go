package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/teilomillet/chatguard/errors"
	"github.com/teilomillet/chatguard/server/middleware"
	"github.com/teilomillet/chatguard/server/processing"
	"github.com/teilomillet/chatguard/server/storage"
	"github.com/teilomillet/chatguard/server/validation"
)

// Pipeline is the chat pipeline as seen by the handlers.
type Pipeline interface {
	Process(ctx context.Context, req processing.Request) (*processing.Response, error)
	ProcessStream(ctx context.Context, req processing.Request) (*processing.StreamResponse, error)
}

// ChatHandler serves the chat message, stream and history endpoints.
type ChatHandler struct {
	pipeline      Pipeline
	conversations storage.ConversationStore
	logger        *zap.Logger
}

// NewChatHandler creates a ChatHandler.
func NewChatHandler(p Pipeline, conversations storage.ConversationStore, logger *zap.Logger) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{pipeline: p, conversations: conversations, logger: logger}
}

// chatRequest reads the validated body and applies the token subject.
func (h *ChatHandler) chatRequest(r *http.Request) (processing.Request, error) {
	body, err := validation.Body[validation.ChatRequest](r.Context())
	if err != nil {
		return processing.Request{}, err
	}
	userID, authErr := resolveUser(r, body.UserID)
	if authErr != nil {
		return processing.Request{}, authErr
	}
	return processing.Request{
		UserID:    userID,
		Text:      body.Text,
		QueryType: body.QueryType,
		RequestID: middleware.GetRequestID(r.Context()),
	}, nil
}

// Message handles POST /api/chat/message.
func (h *ChatHandler) Message(w http.ResponseWriter, r *http.Request) {
	req, err := h.chatRequest(r)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}

	resp, err := h.pipeline.Process(r.Context(), req)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, resp)
}

// StreamEvent is one line of the NDJSON stream. Exactly one of Chunk,
// Done or Error is meaningful per line.
type StreamEvent struct {
	Chunk     string `json:"chunk,omitempty"`
	Done      bool   `json:"done,omitempty"`
	Provider  string `json:"provider,omitempty"`
	QueryType string `json:"query_type,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Stream handles POST /api/chat/stream. Rejections before generation are
// ordinary JSON errors. Once streaming starts the status is 200 and a
// failure is reported as a final error event.
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	req, err := h.chatRequest(r)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}

	s, err := h.pipeline.ProcessStream(r.Context(), req)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	defer s.Close()

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	emit := func(ev StreamEvent) bool {
		if err := enc.Encode(ev); err != nil {
			h.logger.Debug("Stream client gone", zap.String("request_id", req.RequestID), zap.Error(err))
			return false
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	}

	chunks := 0
	for s.Next() {
		if r.Context().Err() != nil {
			return
		}
		if !emit(StreamEvent{Chunk: s.Chunk()}) {
			return
		}
		chunks++
	}
	if err := s.Err(); err != nil {
		h.logger.Error("Stream failed",
			zap.String("request_id", req.RequestID),
			zap.String("provider", s.Provider),
			zap.Int("chunks", chunks),
			zap.Error(err),
		)
		emit(StreamEvent{Error: "Response generation failed"})
		return
	}
	emit(StreamEvent{Done: true, Provider: s.Provider, QueryType: s.QueryType})
}

// HistoryResponse is the body of GET /api/chat/history.
type HistoryResponse struct {
	UserID   string            `json:"user_id"`
	Messages []storage.Message `json:"messages"`
}

// History handles GET /api/chat/history?user_id=. Unknown users get an
// empty list.
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	q := validation.HistoryQuery{UserID: r.URL.Query().Get("user_id")}
	if sub := middleware.GetSubject(r.Context()); sub != "" && q.UserID == "" {
		q.UserID = sub
	}
	if verr := validation.Check(requestID, &q); verr != nil {
		fail(w, r, h.logger, verr)
		return
	}
	userID, authErr := resolveUser(r, q.UserID)
	if authErr != nil {
		fail(w, r, h.logger, authErr)
		return
	}

	resp := HistoryResponse{UserID: userID, Messages: []storage.Message{}}
	conv, err := h.conversations.Conversation(r.Context(), userID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		fail(w, r, h.logger, errors.NewStorageError(requestID, err))
		return
	default:
		resp.Messages = conv.Messages
	}
	writeJSON(w, h.logger, http.StatusOK, resp)
}
