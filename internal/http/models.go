package http

import (
	"context"
	"net/http"

	"github.com/nextlevelbuilder/across/internal/providers"
)

// ModelsHandler proxies the upstream model catalog and connectivity probe.
type ModelsHandler struct {
	// client resolves per request so a rotated vault key takes effect
	// immediately.
	client func(ctx context.Context) *providers.Client
	authn  *Authenticator
}

func NewModelsHandler(client func(ctx context.Context) *providers.Client, authn *Authenticator) *ModelsHandler {
	return &ModelsHandler{client: client, authn: authn}
}

func (h *ModelsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/models", h.authn.requireUser(h.handleList))
	mux.HandleFunc("GET /api/models/connectivity", h.authn.requireUser(h.handleConnectivity))
}

func (h *ModelsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	models, err := h.client(r.Context()).ListModels(r.Context())
	if err != nil {
		if httpErr, ok := err.(*providers.HTTPError); ok {
			writeJSON(w, http.StatusBadGateway, map[string]interface{}{
				"error":  "Upstream model catalog unavailable",
				"status": httpErr.Status,
			})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"models": models})
}

func (h *ModelsHandler) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	result := h.client(r.Context()).CheckConnectivity(r.Context())
	writeJSON(w, http.StatusOK, result)
}
