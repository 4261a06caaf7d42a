// Package audit records administrative and security events. Writes are
// best-effort: an audit failure is logged but never fails the operation
// that triggered it.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/across/internal/store"
)

// Meta carries request-scoped attribution for an audit entry.
type Meta struct {
	Actor     string
	ActorID   string
	IPAddress string
	UserAgent string
}

type Logger struct {
	store store.AuditStore
}

func NewLogger(s store.AuditStore) *Logger {
	return &Logger{store: s}
}

// Log persists an entry, filling in ID and timestamp. Failures are
// swallowed after logging.
func (l *Logger) Log(ctx context.Context, e store.AuditEntry) {
	if e.ID == uuid.Nil {
		e.ID = store.GenNewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if err := l.store.Insert(ctx, &e); err != nil {
		slog.Warn("audit.write_failed", "action", e.Action, "error", err)
	}
}

func (l *Logger) event(ctx context.Context, m Meta, action, resourceType string, resourceID *string, details map[string]any) {
	var actorID *string
	if m.ActorID != "" {
		actorID = &m.ActorID
	}
	l.Log(ctx, store.AuditEntry{
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Actor:        m.Actor,
		ActorID:      actorID,
		IPAddress:    m.IPAddress,
		UserAgent:    m.UserAgent,
		Details:      details,
	})
}

// LogLogin records an authentication attempt. The actor is the email the
// caller presented, whether or not it matched an account.
func (l *Logger) LogLogin(ctx context.Context, m Meta, email string, success bool) {
	action := "login.failed"
	if success {
		action = "login.success"
	}
	m.Actor = email
	l.event(ctx, m, action, "auth", nil, map[string]any{"success": success})
}

// LogResource records a lifecycle action ("user.created", "key.rotated")
// against a concrete resource.
func (l *Logger) LogResource(ctx context.Context, m Meta, action, resourceType, resourceID string, details map[string]any) {
	var rid *string
	if resourceID != "" {
		rid = &resourceID
	}
	l.event(ctx, m, action, resourceType, rid, details)
}

// LogChange records a mutation with before/after snapshots.
func (l *Logger) LogChange(ctx context.Context, m Meta, action, resourceType, resourceID string, oldValues, newValues map[string]any) {
	var rid *string
	if resourceID != "" {
		rid = &resourceID
	}
	var actorID *string
	if m.ActorID != "" {
		actorID = &m.ActorID
	}
	l.Log(ctx, store.AuditEntry{
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   rid,
		Actor:        m.Actor,
		ActorID:      actorID,
		IPAddress:    m.IPAddress,
		UserAgent:    m.UserAgent,
		OldValues:    oldValues,
		NewValues:    newValues,
	})
}
