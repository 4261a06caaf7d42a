package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/across/internal/store"
)

type fakeAuditStore struct {
	mu      sync.Mutex
	entries []store.AuditEntry
	failing bool
	deleted int64
}

func (f *fakeAuditStore) Insert(_ context.Context, e *store.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("db down")
	}
	f.entries = append(f.entries, *e)
	return nil
}

func (f *fakeAuditStore) Query(_ context.Context, _ store.AuditQuery) ([]store.AuditEntry, int, error) {
	return f.entries, len(f.entries), nil
}

func (f *fakeAuditStore) ActionSummary(_ context.Context, _ time.Time) (map[string]int, error) {
	return nil, nil
}

func (f *fakeAuditStore) DeleteOlderThan(_ context.Context, _ time.Time) (int64, error) {
	return f.deleted, nil
}

func TestLogFillsDefaults(t *testing.T) {
	fs := &fakeAuditStore{}
	l := NewLogger(fs)

	l.Log(context.Background(), store.AuditEntry{Action: "user.created", ResourceType: "user"})

	if len(fs.entries) != 1 {
		t.Fatalf("got %d entries", len(fs.entries))
	}
	e := fs.entries[0]
	if e.ID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("ID not generated")
	}
	if e.CreatedAt.IsZero() {
		t.Error("CreatedAt not stamped")
	}
}

func TestLogSwallowsFailures(t *testing.T) {
	l := NewLogger(&fakeAuditStore{failing: true})
	// must not panic or propagate
	l.Log(context.Background(), store.AuditEntry{Action: "user.created"})
}

func TestLogLogin(t *testing.T) {
	fs := &fakeAuditStore{}
	l := NewLogger(fs)
	meta := Meta{IPAddress: "10.0.0.1", UserAgent: "curl"}

	l.LogLogin(context.Background(), meta, "admin@example.com", true)
	l.LogLogin(context.Background(), meta, "intruder@example.com", false)

	if len(fs.entries) != 2 {
		t.Fatalf("got %d entries", len(fs.entries))
	}

	success := fs.entries[0]
	if success.Action != "login.success" || success.ResourceType != "auth" {
		t.Errorf("success entry = %+v", success)
	}
	if success.Actor != "admin@example.com" {
		t.Errorf("actor = %q, want the presented email", success.Actor)
	}
	if v, ok := success.Details["success"].(bool); !ok || !v {
		t.Errorf("details = %v", success.Details)
	}

	failed := fs.entries[1]
	if failed.Action != "login.failed" {
		t.Errorf("failed action = %q", failed.Action)
	}
	if v, ok := failed.Details["success"].(bool); !ok || v {
		t.Errorf("details = %v", failed.Details)
	}
}

func TestLogChangeSnapshots(t *testing.T) {
	fs := &fakeAuditStore{}
	l := NewLogger(fs)

	l.LogChange(context.Background(), Meta{Actor: "admin", ActorID: "abc"},
		"quota.updated", "quota", "q1",
		map[string]any{"daily_cost_limit": 5.0},
		map[string]any{"daily_cost_limit": 10.0})

	e := fs.entries[0]
	if e.OldValues["daily_cost_limit"] != 5.0 || e.NewValues["daily_cost_limit"] != 10.0 {
		t.Errorf("snapshots lost: %+v", e)
	}
	if e.ResourceID == nil || *e.ResourceID != "q1" {
		t.Errorf("resource id = %v", e.ResourceID)
	}
	if e.ActorID == nil || *e.ActorID != "abc" {
		t.Errorf("actor id = %v", e.ActorID)
	}
}

func TestRetentionPruneCutoff(t *testing.T) {
	fs := &fakeAuditStore{deleted: 42}
	r := NewRetention(fs, "0 3 * * *", 365)

	fixed := time.Date(2026, 3, 15, 3, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	// must not error even when entries were deleted
	r.Prune(context.Background())
}
