package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"aksara/backend/internal/auth"
	"aksara/backend/internal/conversation"
	"aksara/backend/internal/logging"
	"aksara/backend/internal/relay"

	"github.com/go-chi/chi/v5"
)

type messageInput struct {
	IsUser    bool   `json:"isUser"`
	Text      string `json:"text"`
	ImageData string `json:"imageData,omitempty"`
}

func (m messageInput) toNew() conversation.NewMessage {
	return conversation.NewMessage{IsUser: m.IsUser, Text: m.Text, ImageData: m.ImageData}
}

func (m messageInput) empty() bool {
	return strings.TrimSpace(m.Text) == "" && strings.TrimSpace(m.ImageData) == ""
}

type createConversationRequest struct {
	Title        string        `json:"title"`
	SystemPrompt string        `json:"systemPrompt"`
	Message      *messageInput `json:"message"`
}

type updateConversationRequest struct {
	Title        *string `json:"title"`
	SystemPrompt *string `json:"systemPrompt"`
}

type generateTitleRequest struct {
	Model string `json:"model"`
}

func (h Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	page, err := h.conversations.List(r.Context(), identity.UserID, limit, r.URL.Query().Get("startAfter"))
	if err != nil {
		h.dbError(w, r, err, "failed to list conversations")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// CreateConversation creates a conversation, optionally together with its
// first message. Without an explicit title the first message is truncated.
func (h Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	var req createConversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	title := strings.Join(strings.Fields(req.Title), " ")
	if req.Message == nil {
		if title == "" {
			title = relay.TruncateTitle("")
		}
		created, err := h.conversations.Create(r.Context(), identity.UserID, title, req.SystemPrompt)
		if err != nil {
			h.dbError(w, r, err, "failed to create conversation")
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"conversation": created})
		return
	}

	if req.Message.empty() {
		writeError(w, http.StatusBadRequest, "invalid_request", "message text or imageData is required")
		return
	}
	if title == "" {
		title = relay.TruncateTitle(req.Message.Text)
	}

	created, message, err := h.conversations.CreateWithMessage(r.Context(), identity.UserID, title, req.SystemPrompt, req.Message.toNew())
	if err != nil {
		h.dbError(w, r, err, "failed to create conversation")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"conversation": created, "message": message})
}

func (h Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	conversationID := chi.URLParam(r, "id")

	found, err := h.conversations.Get(r.Context(), identity.UserID, conversationID)
	if err != nil {
		h.conversationError(w, r, err, "failed to read conversation")
		return
	}
	messages, err := h.conversations.Messages(r.Context(), identity.UserID, conversationID)
	if err != nil {
		h.conversationError(w, r, err, "failed to read messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation": found, "messages": messages})
}

func (h Handler) UpdateConversation(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	var req updateConversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.Title == nil && req.SystemPrompt == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "title or systemPrompt is required")
		return
	}
	if req.Title != nil {
		normalized := strings.Join(strings.Fields(*req.Title), " ")
		if normalized == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "title must not be empty")
			return
		}
		req.Title = &normalized
	}

	updated, err := h.conversations.Update(r.Context(), identity.UserID, chi.URLParam(r, "id"), conversation.Patch{
		Title:        req.Title,
		SystemPrompt: req.SystemPrompt,
	})
	if err != nil {
		h.conversationError(w, r, err, "failed to update conversation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation": updated})
}

func (h Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	if err := h.conversations.Delete(r.Context(), identity.UserID, chi.URLParam(r, "id")); err != nil {
		h.conversationError(w, r, err, "failed to delete conversation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// DeleteAllConversations also purges the caller's archived uploads. An
// archive failure is logged; the conversations are already gone.
func (h Handler) DeleteAllConversations(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	deleted, err := h.conversations.DeleteAll(r.Context(), identity.UserID)
	if err != nil {
		h.dbError(w, r, err, "failed to delete conversations")
		return
	}
	if err := h.documents.PurgeUser(r.Context(), identity.UserID); err != nil {
		logging.FromRequest(r).Warn().Err(err).Msg("purge archived documents failed")
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": deleted})
}

func (h Handler) AddMessage(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	var req messageInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.empty() {
		writeError(w, http.StatusBadRequest, "invalid_request", "message text or imageData is required")
		return
	}

	message, err := h.conversations.AddMessage(r.Context(), identity.UserID, chi.URLParam(r, "id"), req.toNew())
	if err != nil {
		h.conversationError(w, r, err, "failed to save message")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": message})
}

// GenerateTitle replaces the title with a short model-written summary of the
// first user message. When the model fails the truncated message is used.
func (h Handler) GenerateTitle(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	var req generateTitleRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeDecodeError(w, err)
			return
		}
	}

	conversationID := chi.URLParam(r, "id")
	messages, err := h.conversations.Messages(r.Context(), identity.UserID, conversationID)
	if err != nil {
		h.conversationError(w, r, err, "failed to read messages")
		return
	}

	first := ""
	for _, m := range messages {
		if m.IsUser && strings.TrimSpace(m.Text) != "" {
			first = m.Text
			break
		}
	}
	if first == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "conversation has no user message to summarize")
		return
	}

	titleCtx, cancel := h.upstreamContext(r.Context())
	title, titleErr := h.relay.Title(titleCtx, req.Model, first)
	cancel()
	if titleErr != nil {
		logging.FromRequest(r).Warn().Err(titleErr).Str("conversation_id", conversationID).Msg("title generation fell back to truncation")
	}

	updated, err := h.conversations.Update(r.Context(), identity.UserID, conversationID, conversation.Patch{Title: &title})
	if err != nil {
		h.conversationError(w, r, err, "failed to update conversation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation": updated, "generated": titleErr == nil})
}

func (h Handler) requireIdentity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return auth.Identity{}, false
	}
	return identity, true
}

func (h Handler) conversationError(w http.ResponseWriter, r *http.Request, err error, message string) {
	if errors.Is(err, conversation.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "conversation not found")
		return
	}
	h.dbError(w, r, err, message)
}

func (h Handler) dbError(w http.ResponseWriter, r *http.Request, err error, message string) {
	logging.FromRequest(r).Error().Err(err).Msg(message)
	writeError(w, http.StatusInternalServerError, "db_error", message)
}
