package http

import (
	"net/http"

	"github.com/nextlevelbuilder/across/internal/audit"
	"github.com/nextlevelbuilder/across/internal/store"
	"github.com/nextlevelbuilder/across/internal/vault"
)

// ProviderKeysHandler serves the provider key vault (admin only).
type ProviderKeysHandler struct {
	vault *vault.Service
	audit *audit.Logger
	authn *Authenticator
	rl    *RateLimiter
}

func NewProviderKeysHandler(v *vault.Service, auditLog *audit.Logger, authn *Authenticator, rl *RateLimiter) *ProviderKeysHandler {
	return &ProviderKeysHandler{vault: v, audit: auditLog, authn: authn, rl: rl}
}

func (h *ProviderKeysHandler) RegisterRoutes(mux *http.ServeMux) {
	admin := h.authn.requireAdmin
	limited := func(next http.HandlerFunc) http.HandlerFunc {
		return admin(h.rl.limit(keysLimit, next))
	}

	mux.HandleFunc("GET /api/provider-keys", admin(h.handleList))
	mux.HandleFunc("POST /api/provider-keys", limited(h.handleCreate))
	mux.HandleFunc("GET /api/provider-keys/{id}", admin(h.handleGet))
	mux.HandleFunc("PUT /api/provider-keys/{id}", limited(h.handleUpdate))
	mux.HandleFunc("DELETE /api/provider-keys/{id}", limited(h.handleDelete))
	mux.HandleFunc("POST /api/provider-keys/{id}/test", limited(h.handleTest))
	mux.HandleFunc("POST /api/provider-keys/{id}/rotate", limited(h.handleRotate))
	mux.HandleFunc("POST /api/provider-keys/{id}/set-default", limited(h.handleSetDefault))
}

func (h *ProviderKeysHandler) meta(r *http.Request) audit.Meta {
	m := audit.Meta{IPAddress: clientIP(r), UserAgent: r.UserAgent()}
	if p := PrincipalFrom(r.Context()); p != nil {
		m.Actor = p.Email
		if p.AuthType != AuthAdmin {
			m.ActorID = p.UserID.String()
		}
	}
	return m
}

// keyView is a ProviderKey with the material replaced by its mask.
type keyView struct {
	store.ProviderKey
	MaskedKey string `json:"masked_key"`
}

func view(k *store.ProviderKey) keyView {
	return keyView{ProviderKey: *k, MaskedKey: vault.MaskKey(k.APIKey)}
}

func (h *ProviderKeysHandler) handleList(w http.ResponseWriter, r *http.Request) {
	keys, err := h.vault.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]keyView, len(keys))
	for i := range keys {
		views[i] = view(&keys[i])
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"provider_keys": views})
}

func (h *ProviderKeysHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req vault.CreateKeyParams
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	key, err := h.vault.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	h.audit.LogResource(r.Context(), h.meta(r), "key.created", "provider_key", key.ID.String(),
		map[string]interface{}{"provider": key.Provider, "name": key.Name})
	writeJSON(w, http.StatusCreated, view(key))
}

func (h *ProviderKeysHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	key, err := h.vault.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view(key))
}

func (h *ProviderKeysHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req vault.UpdateKeyParams
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	key, err := h.vault.Update(r.Context(), id, req)
	if err != nil {
		writeError(w, err)
		return
	}
	h.audit.LogResource(r.Context(), h.meta(r), "key.updated", "provider_key", id.String(), nil)
	writeJSON(w, http.StatusOK, view(key))
}

func (h *ProviderKeysHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.vault.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	h.audit.LogResource(r.Context(), h.meta(r), "key.deleted", "provider_key", id.String(), nil)
	w.WriteHeader(http.StatusNoContent)
}

func (h *ProviderKeysHandler) handleTest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	key, err := h.vault.Test(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	h.audit.LogResource(r.Context(), h.meta(r), "key.tested", "provider_key", id.String(),
		map[string]interface{}{"test_status": key.TestStatus})
	writeJSON(w, http.StatusOK, view(key))
}

type rotateRequest struct {
	APIKey string `json:"api_key"`
}

func (h *ProviderKeysHandler) handleRotate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req rotateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	rotated, err := h.vault.Rotate(r.Context(), id, req.APIKey)
	if err != nil {
		writeError(w, err)
		return
	}
	h.audit.LogResource(r.Context(), h.meta(r), "key.rotated", "provider_key", rotated.ID.String(),
		map[string]interface{}{"rotated_from": id.String()})
	writeJSON(w, http.StatusCreated, view(rotated))
}

func (h *ProviderKeysHandler) handleSetDefault(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.vault.SetDefault(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	h.audit.LogResource(r.Context(), h.meta(r), "key.set_default", "provider_key", id.String(), nil)
	w.WriteHeader(http.StatusNoContent)
}
