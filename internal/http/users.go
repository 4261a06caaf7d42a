package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/across/internal/audit"
	"github.com/nextlevelbuilder/across/internal/auth"
	"github.com/nextlevelbuilder/across/internal/store"
)

// UsersHandler serves user administration and API key management.
type UsersHandler struct {
	users      store.UserStore
	workspaces store.WorkspaceStore
	audit      *audit.Logger
	authn      *Authenticator
}

func NewUsersHandler(users store.UserStore, workspaces store.WorkspaceStore, auditLog *audit.Logger, authn *Authenticator) *UsersHandler {
	return &UsersHandler{users: users, workspaces: workspaces, audit: auditLog, authn: authn}
}

func (h *UsersHandler) RegisterRoutes(mux *http.ServeMux) {
	// Managers may browse users; everything mutating stays admin-only.
	mux.HandleFunc("GET /api/users", h.authn.requireManager(h.handleList))
	mux.HandleFunc("POST /api/users", h.authn.requireAdmin(h.handleCreate))
	mux.HandleFunc("GET /api/users/{id}", h.authn.requireManager(h.handleGet))
	mux.HandleFunc("PUT /api/users/{id}", h.authn.requireAdmin(h.handleUpdate))
	mux.HandleFunc("DELETE /api/users/{id}", h.authn.requireAdmin(h.handleDelete))
	mux.HandleFunc("POST /api/users/{id}/password", h.authn.requireAdmin(h.handleSetPassword))
	mux.HandleFunc("POST /api/users/{id}/enable", h.authn.requireAdmin(h.handleSetActive(true)))
	mux.HandleFunc("POST /api/users/{id}/disable", h.authn.requireAdmin(h.handleSetActive(false)))

	// API keys are self-service; admins can manage anyone's.
	mux.HandleFunc("GET /api/users/{id}/api-keys", h.authn.requireUser(h.ownerOrAdmin(h.handleListAPIKeys)))
	mux.HandleFunc("POST /api/users/{id}/api-keys", h.authn.requireUser(h.ownerOrAdmin(h.handleCreateAPIKey)))
	mux.HandleFunc("DELETE /api/users/{id}/api-keys/{keyID}", h.authn.requireUser(h.ownerOrAdmin(h.handleRevokeAPIKey)))
}

func (h *UsersHandler) meta(r *http.Request) audit.Meta {
	m := audit.Meta{IPAddress: clientIP(r), UserAgent: r.UserAgent()}
	if p := PrincipalFrom(r.Context()); p != nil {
		m.Actor = p.Email
		if p.AuthType != AuthAdmin {
			m.ActorID = p.UserID.String()
		}
	}
	return m
}

// ownerOrAdmin restricts {id}-scoped routes to the user themselves or an
// admin. Mismatches read as not-found, matching the rest of the API.
func (h *UsersHandler) ownerOrAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		p := PrincipalFrom(r.Context())
		if !p.IsAdmin() && p.UserID != id {
			writeError(w, store.NewNotFound("user", id.String()))
			return
		}
		next(w, r)
	}
}

func (h *UsersHandler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.UserListFilter{
		Search: q.Get("search"),
		Role:   q.Get("role"),
	}
	if v := q.Get("is_active"); v != "" {
		active := v == "true"
		filter.IsActive = &active
	}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.Size, _ = strconv.Atoi(q.Get("size"))

	users, total, err := h.users.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users, "total": total})
}

type createUserRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (h *UsersHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := auth.ValidatePasswordStrength(req.Password); err != nil {
		writeError(w, err)
		return
	}
	role := req.Role
	if role == "" {
		role = store.RoleUser
	}
	if !validRole(role) {
		writeError(w, store.NewValidation("Role must be 'user', 'manager' or 'admin'"))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	ws, err := h.defaultWorkspace(r)
	if err != nil {
		writeError(w, err)
		return
	}

	user := &store.User{
		ID:           store.GenNewID(),
		WorkspaceID:  &ws,
		Email:        req.Email,
		PasswordHash: hash,
		Name:         req.Name,
		Role:         role,
		IsActive:     true,
	}
	if err := h.users.Create(r.Context(), user); err != nil {
		writeError(w, err)
		return
	}

	h.audit.LogResource(r.Context(), h.meta(r), "user.created", "user", user.ID.String(),
		map[string]interface{}{"email": user.Email, "role": user.Role})
	writeJSON(w, http.StatusCreated, user)
}

func validRole(role string) bool {
	return role == store.RoleUser || role == store.RoleManager || role == store.RoleAdmin
}

func (h *UsersHandler) defaultWorkspace(r *http.Request) (uuid.UUID, error) {
	ws, err := h.workspaces.GetByName(r.Context(), "default")
	if err != nil {
		return uuid.Nil, err
	}
	return ws.ID, nil
}

func (h *UsersHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	user, err := h.users.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type updateUserRequest struct {
	Email *string `json:"email,omitempty"`
	Name  *string `json:"name,omitempty"`
	Role  *string `json:"role,omitempty"`
}

func (h *UsersHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.users.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	old := map[string]interface{}{"email": user.Email, "name": user.Name, "role": user.Role}
	if req.Email != nil {
		user.Email = strings.ToLower(strings.TrimSpace(*req.Email))
	}
	if req.Name != nil {
		user.Name = *req.Name
	}
	if req.Role != nil {
		if !validRole(*req.Role) {
			writeError(w, store.NewValidation("Role must be 'user', 'manager' or 'admin'"))
			return
		}
		user.Role = *req.Role
	}

	if err := h.users.Update(r.Context(), user); err != nil {
		writeError(w, err)
		return
	}
	h.audit.LogChange(r.Context(), h.meta(r), "user.updated", "user", id.String(),
		old, map[string]interface{}{"email": user.Email, "name": user.Name, "role": user.Role})
	writeJSON(w, http.StatusOK, user)
}

func (h *UsersHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.users.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	h.audit.LogResource(r.Context(), h.meta(r), "user.deleted", "user", id.String(), nil)
	w.WriteHeader(http.StatusNoContent)
}

type setPasswordRequest struct {
	Password string `json:"password"`
}

func (h *UsersHandler) handleSetPassword(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req setPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := auth.ValidatePasswordStrength(req.Password); err != nil {
		writeError(w, err)
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.users.UpdatePassword(r.Context(), id, hash); err != nil {
		writeError(w, err)
		return
	}
	h.audit.LogResource(r.Context(), h.meta(r), "user.password_changed", "user", id.String(), nil)
	w.WriteHeader(http.StatusNoContent)
}

func (h *UsersHandler) handleSetActive(active bool) http.HandlerFunc {
	action := "user.disabled"
	if active {
		action = "user.enabled"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := h.users.SetActive(r.Context(), id, active); err != nil {
			writeError(w, err)
			return
		}
		h.audit.LogResource(r.Context(), h.meta(r), action, "user", id.String(), nil)
		w.WriteHeader(http.StatusNoContent)
	}
}

// --- API keys ---

func (h *UsersHandler) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	keys, err := h.users.ListAPIKeys(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"api_keys": keys})
}

type createAPIKeyRequest struct {
	Name      string     `json:"name"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (h *UsersHandler) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req createAPIKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, store.NewValidation("Key name is required"))
		return
	}

	raw, prefix, hash, err := auth.GenerateAPIKey()
	if err != nil {
		writeError(w, err)
		return
	}
	key := &store.UserAPIKey{
		ID:        store.GenNewID(),
		UserID:    id,
		Name:      strings.TrimSpace(req.Name),
		KeyPrefix: prefix,
		KeyHash:   hash,
		IsActive:  true,
		ExpiresAt: req.ExpiresAt,
	}
	if err := h.users.CreateAPIKey(r.Context(), key); err != nil {
		writeError(w, err)
		return
	}

	h.audit.LogResource(r.Context(), h.meta(r), "api_key.created", "api_key", key.ID.String(),
		map[string]interface{}{"user_id": id.String(), "name": key.Name})

	// the raw key is returned exactly once
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"api_key": key,
		"key":     raw,
	})
}

func (h *UsersHandler) handleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	keyID, err := parsePathUUID(r, "keyID")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.users.RevokeAPIKey(r.Context(), id, keyID); err != nil {
		writeError(w, err)
		return
	}
	h.audit.LogResource(r.Context(), h.meta(r), "api_key.revoked", "api_key", keyID.String(),
		map[string]interface{}{"user_id": id.String()})
	w.WriteHeader(http.StatusNoContent)
}
