package http

import (
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/across/internal/audit"
	"github.com/nextlevelbuilder/across/internal/store"
)

// AssistantsHandler serves assistant CRUD.
type AssistantsHandler struct {
	assistants store.AssistantStore
	workspaces store.WorkspaceStore
	audit      *audit.Logger
	authn      *Authenticator
}

func NewAssistantsHandler(assistants store.AssistantStore, workspaces store.WorkspaceStore, auditLog *audit.Logger, authn *Authenticator) *AssistantsHandler {
	return &AssistantsHandler{
		assistants: assistants,
		workspaces: workspaces,
		audit:      auditLog,
		authn:      authn,
	}
}

func (h *AssistantsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/assistants", h.authn.requireUser(h.handleList))
	mux.HandleFunc("POST /api/assistants", h.authn.requireAdmin(h.handleCreate))
	mux.HandleFunc("GET /api/assistants/{id}", h.authn.requireUser(h.handleGet))
	mux.HandleFunc("PUT /api/assistants/{id}", h.authn.requireAdmin(h.handleUpdate))
	mux.HandleFunc("DELETE /api/assistants/{id}", h.authn.requireAdmin(h.handleDelete))
}

func (h *AssistantsHandler) meta(r *http.Request) audit.Meta {
	m := audit.Meta{IPAddress: clientIP(r), UserAgent: r.UserAgent()}
	if p := PrincipalFrom(r.Context()); p != nil {
		m.Actor = p.Email
		if p.AuthType != AuthAdmin {
			m.ActorID = p.UserID.String()
		}
	}
	return m
}

func (h *AssistantsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	ws, err := h.workspaces.GetByName(r.Context(), "default")
	if err != nil {
		writeError(w, err)
		return
	}
	assistants, err := h.assistants.List(r.Context(), ws.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"assistants": assistants})
}

type assistantRequest struct {
	Name               string  `json:"name"`
	Description        string  `json:"description"`
	Instructions       string  `json:"instructions"`
	Model              string  `json:"model"`
	Temperature        float64 `json:"temperature"`
	MaxTokens          int     `json:"max_tokens"`
	MaxRetrievalChunks int     `json:"max_retrieval_chunks"`
	AvatarURL          *string `json:"avatar_url,omitempty"`
}

func (req *assistantRequest) validate() error {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return store.NewValidation("Assistant name is required")
	}
	if req.Temperature < 0 || req.Temperature > 2 {
		return store.NewValidation("Temperature must be between 0 and 2")
	}
	if req.MaxRetrievalChunks < 0 {
		return store.NewValidation("max_retrieval_chunks must not be negative")
	}
	return nil
}

func (h *AssistantsHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req assistantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err)
		return
	}

	ws, err := h.workspaces.GetByName(r.Context(), "default")
	if err != nil {
		writeError(w, err)
		return
	}

	a := &store.Assistant{
		ID:                 store.GenNewID(),
		WorkspaceID:        &ws.ID,
		Name:               req.Name,
		Description:        req.Description,
		Instructions:       req.Instructions,
		Model:              req.Model,
		Temperature:        req.Temperature,
		MaxTokens:          req.MaxTokens,
		MaxRetrievalChunks: req.MaxRetrievalChunks,
		AvatarURL:          req.AvatarURL,
	}
	if err := h.assistants.Create(r.Context(), a); err != nil {
		writeError(w, err)
		return
	}

	h.audit.LogResource(r.Context(), h.meta(r), "assistant.created", "assistant", a.ID.String(),
		map[string]interface{}{"name": a.Name, "model": a.Model})
	writeJSON(w, http.StatusCreated, a)
}

func (h *AssistantsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	a, err := h.assistants.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *AssistantsHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req assistantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err)
		return
	}

	a, err := h.assistants.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	old := map[string]interface{}{"name": a.Name, "model": a.Model, "instructions": a.Instructions}
	a.Name = req.Name
	a.Description = req.Description
	a.Instructions = req.Instructions
	a.Model = req.Model
	a.Temperature = req.Temperature
	a.MaxTokens = req.MaxTokens
	a.MaxRetrievalChunks = req.MaxRetrievalChunks
	a.AvatarURL = req.AvatarURL

	if err := h.assistants.Update(r.Context(), a); err != nil {
		writeError(w, err)
		return
	}
	h.audit.LogChange(r.Context(), h.meta(r), "assistant.updated", "assistant", id.String(),
		old, map[string]interface{}{"name": a.Name, "model": a.Model, "instructions": a.Instructions})
	writeJSON(w, http.StatusOK, a)
}

func (h *AssistantsHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	// Soft delete: conversation history stays readable and the knowledge
	// collection is kept for recovery.
	if err := h.assistants.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	h.audit.LogResource(r.Context(), h.meta(r), "assistant.deleted", "assistant", id.String(), nil)
	w.WriteHeader(http.StatusNoContent)
}
