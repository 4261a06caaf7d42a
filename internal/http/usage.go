package http

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/across/internal/audit"
	"github.com/nextlevelbuilder/across/internal/quota"
	"github.com/nextlevelbuilder/across/internal/store"
)

// UsageHandler serves usage status and quota administration.
type UsageHandler struct {
	quota *quota.Service
	usage store.UsageStore
	audit *audit.Logger
	authn *Authenticator
	rl    *RateLimiter
}

func NewUsageHandler(q *quota.Service, usage store.UsageStore, auditLog *audit.Logger, authn *Authenticator, rl *RateLimiter) *UsageHandler {
	return &UsageHandler{quota: q, usage: usage, audit: auditLog, authn: authn, rl: rl}
}

func (h *UsageHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/usage/status", h.authn.requireUser(h.handleStatus))
	mux.HandleFunc("GET /api/usage/alerts", h.authn.requireUser(h.handleAlerts))
	mux.HandleFunc("GET /api/quotas", h.authn.requireAdmin(h.handleGetQuota))
	mux.HandleFunc("PUT /api/quotas", h.authn.requireAdmin(h.rl.limit(settingsLimit, h.handlePutQuota)))
}

func (h *UsageHandler) meta(r *http.Request) audit.Meta {
	m := audit.Meta{IPAddress: clientIP(r), UserAgent: r.UserAgent()}
	if p := PrincipalFrom(r.Context()); p != nil {
		m.Actor = p.Email
		if p.AuthType != AuthAdmin {
			m.ActorID = p.UserID.String()
		}
	}
	return m
}

func (h *UsageHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFrom(r.Context())
	status, err := h.quota.Status(r.Context(), p.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *UsageHandler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFrom(r.Context())
	alerts, err := h.quota.Alerts(r.Context(), p.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": alerts})
}

// handleGetQuota returns the global quota or, with ?user_id=, a user's
// effective quota.
func (h *UsageHandler) handleGetQuota(w http.ResponseWriter, r *http.Request) {
	if v := r.URL.Query().Get("user_id"); v != "" {
		userID, err := parseUUIDField(v, "user_id")
		if err != nil {
			writeError(w, err)
			return
		}
		q, err := h.quota.EffectiveQuota(r.Context(), userID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, q)
		return
	}

	q, err := h.quota.GlobalQuota(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

type putQuotaRequest struct {
	UserID                *string  `json:"user_id,omitempty"` // absent = global quota
	DailyTokenLimit       *int64   `json:"daily_token_limit,omitempty"`
	MonthlyTokenLimit     *int64   `json:"monthly_token_limit,omitempty"`
	DailyCostLimit        *float64 `json:"daily_cost_limit,omitempty"`
	MonthlyCostLimit      *float64 `json:"monthly_cost_limit,omitempty"`
	RequestsPerMinute     *int     `json:"requests_per_minute,omitempty"`
	RequestsPerHour       *int     `json:"requests_per_hour,omitempty"`
	AlertThresholdPercent *int     `json:"alert_threshold_percent,omitempty"`
}

func (h *UsageHandler) handlePutQuota(w http.ResponseWriter, r *http.Request) {
	var req putQuotaRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.AlertThresholdPercent != nil && (*req.AlertThresholdPercent < 0 || *req.AlertThresholdPercent > 100) {
		writeError(w, store.NewValidation("alert_threshold_percent must be between 0 and 100"))
		return
	}

	var current *store.UsageQuota
	var err error
	var targetUser *uuid.UUID

	if req.UserID != nil {
		userID, perr := parseUUIDField(*req.UserID, "user_id")
		if perr != nil {
			writeError(w, perr)
			return
		}
		targetUser = &userID
		current, err = h.usage.GetQuotaForUser(r.Context(), userID)
	} else {
		current, err = h.quota.GlobalQuota(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}

	isNew := current == nil
	if isNew {
		current = &store.UsageQuota{
			ID:                    store.GenNewID(),
			UserID:                targetUser,
			AlertThresholdPercent: quota.DefaultAlertThresholdPercent,
		}
	}

	old := map[string]interface{}{
		"daily_token_limit":   current.DailyTokenLimit,
		"monthly_token_limit": current.MonthlyTokenLimit,
		"daily_cost_limit":    current.DailyCostLimit,
		"monthly_cost_limit":  current.MonthlyCostLimit,
	}

	current.DailyTokenLimit = req.DailyTokenLimit
	current.MonthlyTokenLimit = req.MonthlyTokenLimit
	current.DailyCostLimit = req.DailyCostLimit
	current.MonthlyCostLimit = req.MonthlyCostLimit
	current.RequestsPerMinute = req.RequestsPerMinute
	current.RequestsPerHour = req.RequestsPerHour
	if req.AlertThresholdPercent != nil {
		current.AlertThresholdPercent = *req.AlertThresholdPercent
	}

	if isNew {
		err = h.usage.CreateQuota(r.Context(), current)
	} else {
		err = h.usage.UpdateQuota(r.Context(), current)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	h.audit.LogChange(r.Context(), h.meta(r), "quota.updated", "quota", current.ID.String(),
		old, map[string]interface{}{
			"daily_token_limit":   current.DailyTokenLimit,
			"monthly_token_limit": current.MonthlyTokenLimit,
			"daily_cost_limit":    current.DailyCostLimit,
			"monthly_cost_limit":  current.MonthlyCostLimit,
		})
	writeJSON(w, http.StatusOK, current)
}
