package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/across/internal/audit"
	"github.com/nextlevelbuilder/across/internal/auth"
	"github.com/nextlevelbuilder/across/internal/store"
)

// AuthHandler serves login and identity endpoints.
type AuthHandler struct {
	users  store.UserStore
	tokens *auth.TokenIssuer
	// adminPassword is the configured admin credential: a bcrypt hash in
	// production, plaintext allowed in dev.
	adminPassword string
	audit         *audit.Logger
	authn         *Authenticator
	rl            *RateLimiter
}

func NewAuthHandler(users store.UserStore, tokens *auth.TokenIssuer, adminPassword string, auditLog *audit.Logger, authn *Authenticator, rl *RateLimiter) *AuthHandler {
	return &AuthHandler{
		users:         users,
		tokens:        tokens,
		adminPassword: adminPassword,
		audit:         auditLog,
		authn:         authn,
		rl:            rl,
	}
}

func (h *AuthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/login", h.rl.limit(loginLimit, h.handleLogin))
	mux.HandleFunc("POST /api/auth/admin/login", h.rl.limit(loginLimit, h.handleAdminLogin))
	mux.HandleFunc("GET /api/auth/me", h.authn.requireUser(h.handleMe))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string      `json:"access_token"`
	CSRFToken   string      `json:"csrf_token"`
	TokenType   string      `json:"token_type"`
	User        *store.User `json:"user,omitempty"`
}

func (h *AuthHandler) meta(r *http.Request) audit.Meta {
	return audit.Meta{IPAddress: clientIP(r), UserAgent: r.UserAgent()}
}

func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	fail := func() {
		h.audit.LogLogin(r.Context(), h.meta(r), email, false)
		writeError(w, &store.AuthenticationError{Message: "Invalid email or password"})
	}

	user, err := h.users.GetByEmail(r.Context(), email)
	if err != nil || user == nil {
		fail()
		return
	}
	if !auth.VerifyPassword(req.Password, user.PasswordHash) {
		fail()
		return
	}
	if !user.IsActive {
		h.audit.LogLogin(r.Context(), h.meta(r), email, false)
		writeError(w, &store.AuthenticationError{Message: "Account is disabled"})
		return
	}

	token, csrf, err := h.tokens.IssueUserToken(user)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.users.TouchLastLogin(r.Context(), user.ID); err != nil {
		slog.Warn("auth.touch_last_login", "user_id", user.ID, "error", err)
	}
	h.audit.LogLogin(r.Context(), h.meta(r), email, true)

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		CSRFToken:   csrf,
		TokenType:   "bearer",
		User:        user,
	})
}

type adminLoginRequest struct {
	Password string `json:"password"`
}

func (h *AuthHandler) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	if h.adminPassword == "" || !auth.VerifyPassword(req.Password, h.adminPassword) {
		h.audit.LogLogin(r.Context(), h.meta(r), "admin", false)
		writeError(w, &store.AuthenticationError{Message: "Invalid admin password"})
		return
	}

	token, csrf, err := h.tokens.IssueAdminToken()
	if err != nil {
		writeError(w, err)
		return
	}
	h.audit.LogLogin(r.Context(), h.meta(r), "admin", true)

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		CSRFToken:   csrf,
		TokenType:   "bearer",
	})
}

func (h *AuthHandler) handleMe(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFrom(r.Context())

	if p.AuthType == AuthAdmin {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"email":     p.Email,
			"name":      p.Name,
			"role":      p.Role,
			"auth_type": p.AuthType,
		})
		return
	}

	user, err := h.users.Get(r.Context(), p.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":        user.ID,
		"email":     user.Email,
		"name":      user.Name,
		"role":      user.Role,
		"is_active": user.IsActive,
		"auth_type": p.AuthType,
	})
}
