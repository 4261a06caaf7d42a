package http

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/across/internal/auth"
	"github.com/nextlevelbuilder/across/internal/store"
)

// Authenticator resolves request credentials into a Principal and guards
// routes by role.
type Authenticator struct {
	tokens *auth.TokenIssuer
	users  store.UserStore
}

func NewAuthenticator(tokens *auth.TokenIssuer, users store.UserStore) *Authenticator {
	return &Authenticator{tokens: tokens, users: users}
}

// authenticate tries, in order: admin token header, user session JWT,
// user API key.
func (a *Authenticator) authenticate(r *http.Request) (*Principal, error) {
	if adminTok := r.Header.Get("X-Admin-Token"); adminTok != "" {
		if _, err := a.tokens.VerifyAdminToken(adminTok); err != nil {
			return nil, &store.AuthenticationError{Message: "Invalid admin token"}
		}
		return &Principal{Email: "admin", Name: "Administrator", Role: store.RoleAdmin, AuthType: AuthAdmin}, nil
	}

	bearer := extractBearerToken(r)
	if bearer == "" {
		return nil, &store.AuthenticationError{Message: "Authentication required"}
	}

	if claims, err := a.tokens.VerifyUserToken(bearer); err == nil {
		userID, err := uuid.Parse(claims.Subject)
		if err != nil {
			return nil, &store.AuthenticationError{Message: "Invalid token subject"}
		}
		return &Principal{
			UserID:   userID,
			Email:    claims.Email,
			Name:     claims.Name,
			Role:     claims.Role,
			AuthType: AuthSession,
			CSRF:     claims.CSRF,
		}, nil
	}

	user, err := auth.VerifyAPIKey(r.Context(), a.users, bearer)
	if err != nil {
		return nil, &store.AuthenticationError{Message: "Invalid credentials"}
	}
	return &Principal{
		UserID:   user.ID,
		Email:    user.Email,
		Name:     user.Name,
		Role:     user.Role,
		AuthType: AuthAPIKey,
	}, nil
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// requireUser authenticates any principal and, for session credentials on
// mutating methods, enforces the CSRF token echo.
func (a *Authenticator) requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := a.authenticate(r)
		if err != nil {
			writeError(w, err)
			return
		}
		if p.AuthType == AuthSession && isMutating(r.Method) {
			// a failed CSRF check is an authorization failure (403), the
			// session itself is valid
			if err := auth.VerifyCSRF(&auth.Claims{CSRF: p.CSRF}, r.Header.Get("X-CSRF-Token")); err != nil {
				writeError(w, err)
				return
			}
		}
		next(w, r.WithContext(withPrincipal(r.Context(), p)))
	}
}

// requireAdmin additionally demands the admin role.
func (a *Authenticator) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return a.requireUser(func(w http.ResponseWriter, r *http.Request) {
		p := PrincipalFrom(r.Context())
		if p == nil || !p.IsAdmin() {
			writeError(w, &store.AuthorizationError{Message: "Admin access required"})
			return
		}
		next(w, r)
	})
}

// requireManager admits managers and admins.
func (a *Authenticator) requireManager(next http.HandlerFunc) http.HandlerFunc {
	return a.requireUser(func(w http.ResponseWriter, r *http.Request) {
		p := PrincipalFrom(r.Context())
		if p == nil || !p.IsManager() {
			writeError(w, &store.AuthorizationError{Message: "Manager access required"})
			return
		}
		next(w, r)
	})
}
