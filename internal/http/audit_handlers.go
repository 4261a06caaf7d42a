package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nextlevelbuilder/across/internal/store"
)

// AuditHandler serves audit log queries (admin only).
type AuditHandler struct {
	audit store.AuditStore
	authn *Authenticator
}

func NewAuditHandler(auditStore store.AuditStore, authn *Authenticator) *AuditHandler {
	return &AuditHandler{audit: auditStore, authn: authn}
}

func (h *AuditHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/audit", h.authn.requireAdmin(h.handleQuery))
	mux.HandleFunc("GET /api/audit/recent", h.authn.requireAdmin(h.handleRecent))
	mux.HandleFunc("GET /api/audit/summary", h.authn.requireAdmin(h.handleSummary))
}

func (h *AuditHandler) handleQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	query := store.AuditQuery{
		Action:       q.Get("action"),
		ResourceType: q.Get("resource_type"),
		ResourceID:   q.Get("resource_id"),
		Actor:        q.Get("actor"),
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, store.NewValidation("Invalid 'since' timestamp"))
			return
		}
		query.Since = &t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, store.NewValidation("Invalid 'until' timestamp"))
			return
		}
		query.Until = &t
	}
	query.Limit, _ = strconv.Atoi(q.Get("limit"))
	if query.Limit <= 0 || query.Limit > 500 {
		query.Limit = 100
	}
	query.Offset, _ = strconv.Atoi(q.Get("offset"))
	if query.Offset < 0 {
		query.Offset = 0
	}

	entries, total, err := h.audit.Query(r.Context(), query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   total,
		"limit":   query.Limit,
		"offset":  query.Offset,
	})
}

func (h *AuditHandler) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	entries, _, err := h.audit.Query(r.Context(), store.AuditQuery{Limit: limit})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// handleSummary groups the last 30 days of activity by action.
func (h *AuditHandler) handleSummary(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	if days <= 0 || days > 365 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	summary, err := h.audit.ActionSummary(r.Context(), since)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"since":   since,
		"summary": summary,
	})
}
