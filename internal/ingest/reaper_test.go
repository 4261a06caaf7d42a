package ingest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/across/internal/store"
)

func TestReaperRecoversStaleProcessing(t *testing.T) {
	files := newFakeFileStore()
	f := seedFile(t, files, store.FileStatusProcessing)
	started := time.Now().UTC().Add(-30 * time.Minute)
	f.ProcessingStartedAt = &started
	f.AttemptCount = 1
	files.Update(context.Background(), f)

	p, _, _ := newTestProcessor(files, "text", nil)
	r := NewReaper(files, p, time.Minute, 15*time.Minute)

	if err := r.recoverStale(context.Background()); err != nil {
		t.Fatalf("recoverStale: %v", err)
	}

	got, _ := files.Get(context.Background(), f.ID)
	if got.Status != store.FileStatusPending {
		t.Errorf("status = %q, want pending", got.Status)
	}
	if got.LastError == nil || !strings.Contains(*got.LastError, "Retry scheduled (stale_processing), attempt 2") {
		t.Errorf("last error = %v", got.LastError)
	}
	if got.NextRetryAt == nil {
		t.Error("stale recovery must schedule a retry")
	}
	// Attempt counter only moves when processing starts.
	if got.AttemptCount != 1 {
		t.Errorf("attempt count = %d, want 1", got.AttemptCount)
	}
}

func TestReaperFailsStaleAfterMaxAttempts(t *testing.T) {
	files := newFakeFileStore()
	f := seedFile(t, files, store.FileStatusIndexing)
	started := time.Now().UTC().Add(-time.Hour)
	f.ProcessingStartedAt = &started
	f.AttemptCount = 3
	files.Update(context.Background(), f)

	p, _, _ := newTestProcessor(files, "text", nil)
	r := NewReaper(files, p, time.Minute, 15*time.Minute)

	if err := r.recoverStale(context.Background()); err != nil {
		t.Fatalf("recoverStale: %v", err)
	}

	got, _ := files.Get(context.Background(), f.ID)
	if got.Status != store.FileStatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	want := "Exceeded max attempts (3) due to stale_processing"
	if got.ErrorMessage == nil || *got.ErrorMessage != want {
		t.Errorf("error message = %v, want %q", got.ErrorMessage, want)
	}
}

func TestReaperIgnoresFreshProcessing(t *testing.T) {
	files := newFakeFileStore()
	f := seedFile(t, files, store.FileStatusProcessing)
	started := time.Now().UTC().Add(-time.Minute)
	f.ProcessingStartedAt = &started
	files.Update(context.Background(), f)

	p, _, _ := newTestProcessor(files, "text", nil)
	r := NewReaper(files, p, time.Minute, 15*time.Minute)
	r.RunOnce(context.Background())

	got, _ := files.Get(context.Background(), f.ID)
	if got.Status != store.FileStatusProcessing {
		t.Errorf("fresh row was touched: status = %q", got.Status)
	}
}

func TestReaperProcessesDueRetries(t *testing.T) {
	files := newFakeFileStore()
	f := seedFile(t, files, store.FileStatusPending)
	due := time.Now().UTC().Add(-time.Second)
	f.NextRetryAt = &due
	files.Update(context.Background(), f)

	p, vs, _ := newTestProcessor(files, "alpha beta", nil)
	r := NewReaper(files, p, time.Minute, 15*time.Minute)
	r.RunOnce(context.Background())

	got, _ := files.Get(context.Background(), f.ID)
	if got.Status != store.FileStatusReady {
		t.Errorf("status = %q, want ready", got.Status)
	}
	if len(vs.added) != 2 {
		t.Errorf("added %d chunks, want 2", len(vs.added))
	}
}

func TestReaperLeavesFutureRetriesAlone(t *testing.T) {
	files := newFakeFileStore()
	f := seedFile(t, files, store.FileStatusPending)
	future := time.Now().UTC().Add(time.Hour)
	f.NextRetryAt = &future
	files.Update(context.Background(), f)

	p, _, emb := newTestProcessor(files, "text", nil)
	r := NewReaper(files, p, time.Minute, 15*time.Minute)
	r.RunOnce(context.Background())

	if emb.calls != 0 {
		t.Error("future retry must not be processed yet")
	}
}
