package http

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/nextlevelbuilder/across/internal/chat"
	"github.com/nextlevelbuilder/across/internal/store"
)

// defaultListLimit caps conversation listings.
const defaultListLimit = 50

// ConversationsHandler serves conversation CRUD, message history, export
// and the streaming chat endpoint.
type ConversationsHandler struct {
	conversations store.ConversationStore
	assistants    store.AssistantStore
	orch          *chat.Orchestrator
	authn         *Authenticator
	rl            *RateLimiter
}

func NewConversationsHandler(conversations store.ConversationStore, assistants store.AssistantStore, orch *chat.Orchestrator, authn *Authenticator, rl *RateLimiter) *ConversationsHandler {
	return &ConversationsHandler{
		conversations: conversations,
		assistants:    assistants,
		orch:          orch,
		authn:         authn,
		rl:            rl,
	}
}

func (h *ConversationsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/conversations", h.authn.requireUser(h.handleList))
	mux.HandleFunc("POST /api/conversations", h.authn.requireUser(h.handleCreate))
	mux.HandleFunc("GET /api/conversations/{id}", h.authn.requireUser(h.handleGet))
	mux.HandleFunc("PUT /api/conversations/{id}", h.authn.requireUser(h.handleRename))
	mux.HandleFunc("DELETE /api/conversations/{id}", h.authn.requireUser(h.handleDelete))
	mux.HandleFunc("GET /api/conversations/{id}/messages", h.authn.requireUser(h.handleMessages))
	mux.HandleFunc("GET /api/conversations/{id}/export", h.authn.requireUser(h.handleExport))
	mux.HandleFunc("POST /api/conversations/{id}/chat", h.authn.requireUser(h.rl.limit(chatLimit, h.handleChat)))
	mux.HandleFunc("POST /api/messages/{id}/feedback", h.authn.requireUser(h.handleFeedback))
}

func (h *ConversationsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFrom(r.Context())

	limit := defaultListLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= defaultListLimit {
		limit = v
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	convs, total, err := h.conversations.ListByUser(r.Context(), p.UserID, p.IsAdmin(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": convs,
		"total":         total,
		"limit":         limit,
		"offset":        offset,
	})
}

type createConversationRequest struct {
	AssistantID string `json:"assistant_id"`
	Title       string `json:"title"`
}

func (h *ConversationsHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFrom(r.Context())
	if p.AuthType == AuthAdmin {
		writeError(w, store.NewValidation("Conversations belong to users; log in as a user"))
		return
	}

	var req createConversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	assistantID, err := parseUUIDField(req.AssistantID, "assistant_id")
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.assistants.Get(r.Context(), assistantID); err != nil {
		writeError(w, err)
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "New Conversation"
	}

	conv := &store.Conversation{
		ID:          store.GenNewID(),
		AssistantID: &assistantID,
		UserID:      p.UserID,
		Title:       title,
	}
	if err := h.conversations.Create(r.Context(), conv); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (h *ConversationsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	conv, err := h.owned(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

type renameConversationRequest struct {
	Title string `json:"title"`
}

func (h *ConversationsHandler) handleRename(w http.ResponseWriter, r *http.Request) {
	conv, err := h.owned(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req renameConversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		writeError(w, store.NewValidation("Title is required"))
		return
	}
	if err := h.conversations.UpdateTitle(r.Context(), conv.ID, title); err != nil {
		writeError(w, err)
		return
	}
	conv.Title = title
	writeJSON(w, http.StatusOK, conv)
}

func (h *ConversationsHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	conv, err := h.owned(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.conversations.Delete(r.Context(), conv.ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConversationsHandler) handleMessages(w http.ResponseWriter, r *http.Request) {
	conv, err := h.owned(r)
	if err != nil {
		writeError(w, err)
		return
	}
	msgs, err := h.conversations.ListMessages(r.Context(), conv.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

// handleExport returns the full conversation as a downloadable JSON
// document.
func (h *ConversationsHandler) handleExport(w http.ResponseWriter, r *http.Request) {
	conv, err := h.owned(r)
	if err != nil {
		writeError(w, err)
		return
	}
	msgs, err := h.conversations.ListMessages(r.Context(), conv.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=conversation-%s.json", conv.ID))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversation": conv,
		"messages":     msgs,
	})
}

type chatRequest struct {
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
}

// handleChat streams one conversation turn over SSE.
func (h *ConversationsHandler) handleChat(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	p := PrincipalFrom(r.Context())

	// validate ownership and content before committing to a stream, so
	// pre-flight failures still produce clean JSON errors
	if _, err := h.conversations.GetForOwner(r.Context(), id, p.UserID, p.IsAdmin()); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, store.NewValidation("Message content is required"))
		return
	}

	params := chat.SendParams{
		ConversationID: id,
		UserID:         p.UserID,
		IsAdmin:        p.IsAdmin(),
		Content:        req.Content,
		Model:          req.Model,
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.orch.Send(r.Context(), params, func(e chat.Event) { sse.Send(e) }); err != nil {
		sse.Send(chat.Event{Type: chat.EventError, Error: err.Error()})
	}
}

// maxFeedbackReasonChars bounds the free-text reason on a rating.
const maxFeedbackReasonChars = 1000

type feedbackRequest struct {
	Feedback string  `json:"feedback"`
	Reason   *string `json:"reason,omitempty"`
}

// handleFeedback records a thumbs-up/down rating on an assistant reply.
func (h *ConversationsHandler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req feedbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	feedback := strings.ToLower(strings.TrimSpace(req.Feedback))
	if feedback != "positive" && feedback != "negative" {
		writeError(w, store.NewValidation("Feedback must be 'positive' or 'negative'"))
		return
	}
	if req.Reason != nil && len([]rune(*req.Reason)) > maxFeedbackReasonChars {
		writeError(w, store.NewValidation("Feedback reason must be at most %d characters", maxFeedbackReasonChars))
		return
	}

	msg, err := h.conversations.GetMessage(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	// ownership runs through the conversation; a foreign message reads as
	// not found
	p := PrincipalFrom(r.Context())
	if _, err := h.conversations.GetForOwner(r.Context(), msg.ConversationID, p.UserID, p.IsAdmin()); err != nil {
		writeError(w, store.NewNotFound("message", id.String()))
		return
	}
	if msg.Role != "assistant" {
		writeError(w, store.NewValidation("Feedback applies to assistant messages only"))
		return
	}

	var fbCtx map[string]any
	if msg.Model != "" {
		fbCtx = map[string]any{"model": msg.Model}
	}
	if err := h.conversations.SetMessageFeedback(r.Context(), id, feedback, req.Reason, fbCtx); err != nil {
		writeError(w, err)
		return
	}

	msg.Feedback = &feedback
	msg.FeedbackReason = req.Reason
	msg.FeedbackContext = fbCtx
	writeJSON(w, http.StatusOK, msg)
}

func (h *ConversationsHandler) owned(r *http.Request) (*store.Conversation, error) {
	id, err := pathID(r)
	if err != nil {
		return nil, err
	}
	p := PrincipalFrom(r.Context())
	return h.conversations.GetForOwner(r.Context(), id, p.UserID, p.IsAdmin())
}
