package http

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
	ctxKeyPrincipal
)

// Principal identification sources.
const (
	AuthSession = "session"
	AuthAPIKey  = "api_key"
	AuthAdmin   = "admin"
)

// Principal is the authenticated caller attached to the request context.
type Principal struct {
	UserID   uuid.UUID
	Email    string
	Name     string
	Role     string
	AuthType string
	// CSRF is the token embedded in the session JWT; empty for API keys
	// and admin tokens, which are exempt from CSRF checks.
	CSRF string
}

func (p *Principal) IsAdmin() bool {
	return p.AuthType == AuthAdmin || p.Role == "admin"
}

// IsManager reports manager-or-above privileges.
func (p *Principal) IsManager() bool {
	return p.IsAdmin() || p.Role == "manager"
}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

// RequestID returns the request id attached by the middleware, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

func withPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal, p)
}

// PrincipalFrom returns the authenticated principal, or nil.
func PrincipalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(ctxKeyPrincipal).(*Principal)
	return p
}
