package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"aksara/backend/internal/conversation"
	"aksara/backend/internal/logging"
	"aksara/backend/internal/relay"
	"aksara/backend/internal/sse"
)

const (
	messageRateLimited = "Terlalu banyak permintaan. Silakan tunggu sebentar sebelum mengirim pesan lagi."
	messageBadRequest  = "Permintaan tidak valid."
)

// chatRequest is relay.Request plus an optional conversation whose stored
// system prompt applies to the turn.
type chatRequest struct {
	relay.Request
	ConversationID string `json:"conversationId,omitempty"`
}

type chatResponse struct {
	Status   string `json:"status"`
	Response string `json:"response"`
	Model    string `json:"model"`
}

// ChatStream relays one turn as server-sent events. Every accepted request
// gets a well-formed stream ending in exactly one done frame, including
// validation and upstream failures.
func (h Handler) ChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readChatRequest(w, r)
	if !ok {
		return
	}

	// The server write timeout is sized for buffered replies; a stream ends
	// when the upstream or the client does.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	writer, err := sse.NewWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "server does not support streaming")
		return
	}

	err = h.relay.Stream(r.Context(), req, func(frame relay.Frame) error {
		return writer.WriteJSON(frame)
	})
	if err != nil {
		logging.FromRequest(r).Debug().Err(err).Msg("stream ended early")
	}
}

// Chat is the buffered fallback for clients that cannot read a stream.
func (h Handler) Chat(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readChatRequest(w, r)
	if !ok {
		return
	}
	model := h.relay.ModelID(req.Model)

	ctx, cancel := h.upstreamContext(r.Context())
	defer cancel()

	reply, err := h.relay.Complete(ctx, req)
	if err == nil {
		writeJSON(w, http.StatusOK, chatResponse{Status: "success", Response: reply, Model: model})
		return
	}

	var failure *relay.Failure
	if !errors.As(err, &failure) {
		logging.FromRequest(r).Error().Err(err).Msg("chat completion failed")
		writeJSON(w, http.StatusInternalServerError, chatResponse{Status: "error", Response: relay.MessageInternal, Model: model})
		return
	}

	switch failure.Kind {
	case relay.KindValidation:
		writeJSON(w, http.StatusBadRequest, chatResponse{Status: "error", Response: failure.Message, Model: model})
	case relay.KindInternal:
		writeJSON(w, http.StatusInternalServerError, chatResponse{Status: "error", Response: relay.MessageInternal, Model: model})
	default:
		writeJSON(w, http.StatusOK, chatResponse{Status: "error", Response: failure.Message, Model: model})
	}
}

// upstreamContext bounds a buffered upstream call by UPSTREAM_TIMEOUT_SECONDS.
func (h Handler) upstreamContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.cfg.UpstreamTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.cfg.UpstreamTimeout)
}

// readChatRequest decodes the body and resolves the conversation system
// prompt. It writes the error response itself when it returns false.
func (h Handler) readChatRequest(w http.ResponseWriter, r *http.Request) (relay.Request, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body chatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request_too_large", "request body is too large")
			return relay.Request{}, false
		}
		writeError(w, http.StatusBadRequest, "invalid_request", messageBadRequest)
		return relay.Request{}, false
	}

	conversationID := strings.TrimSpace(body.ConversationID)
	if conversationID == "" || strings.TrimSpace(body.SystemPrompt) != "" {
		return body.Request, true
	}

	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return relay.Request{}, false
	}
	stored, err := h.conversations.Get(r.Context(), identity.UserID, conversationID)
	if errors.Is(err, conversation.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "conversation not found")
		return relay.Request{}, false
	}
	if err != nil {
		logging.FromRequest(r).Error().Err(err).Str("conversation_id", conversationID).Msg("load conversation failed")
		writeError(w, http.StatusInternalServerError, "db_error", "failed to load conversation")
		return relay.Request{}, false
	}

	body.SystemPrompt = stored.SystemPrompt
	return body.Request, true
}

// RateLimit bounds chat turns per identity. A limiter outage lets requests
// through; chat availability matters more than the quota.
func (h Handler) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		key := "anonymous"
		if identity, ok := identityFromContext(r.Context()); ok {
			key = identity.UserID
		}

		allowed, err := h.limiter.Allow(r.Context(), key)
		if err != nil {
			logging.FromRequest(r).Warn().Err(err).Msg("rate limiter unavailable")
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			h.metrics.ObserveRateLimited()
			writeError(w, http.StatusTooManyRequests, "rate_limited", messageRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}
