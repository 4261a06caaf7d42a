package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/across/internal/store"
)

// Reaper recovers files stuck in processing/indexing (crashed or
// abandoned workers) and kicks off due retries.
type Reaper struct {
	files      store.FileStore
	proc       *Processor
	interval   time.Duration
	staleAfter time.Duration
	now        func() time.Time
}

func NewReaper(files store.FileStore, proc *Processor, interval, staleAfter time.Duration) *Reaper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	return &Reaper{
		files:      files,
		proc:       proc,
		interval:   interval,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Run loops until ctx is done. One pass runs immediately on start.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce recovers stale rows, then processes due retries.
func (r *Reaper) RunOnce(ctx context.Context) {
	if err := r.recoverStale(ctx); err != nil {
		slog.Error("reaper.recover_stale", "error", err)
	}
	if err := r.processDueRetries(ctx); err != nil {
		slog.Error("reaper.process_due", "error", err)
	}
}

func (r *Reaper) recoverStale(ctx context.Context) error {
	cutoff := r.now().UTC().Add(-r.staleAfter)
	stale, err := r.files.ListStale(ctx, cutoff)
	if err != nil {
		return err
	}
	for i := range stale {
		f := &stale[i]
		slog.Warn("reaper.stale", "file_id", f.ID, "status", f.Status, "attempt", f.AttemptCount)
		if err := r.scheduleRetry(ctx, f, "stale_processing"); err != nil {
			slog.Error("reaper.schedule_retry", "file_id", f.ID, "error", err)
		}
	}
	return nil
}

// scheduleRetry requeues a stale row without bumping the attempt counter;
// the counter moves when processing actually starts.
func (r *Reaper) scheduleRetry(ctx context.Context, f *store.KnowledgeFile, reason string) error {
	if f.AttemptCount >= f.MaxAttempts {
		msg := fmt.Sprintf("Exceeded max attempts (%d) due to %s", f.MaxAttempts, reason)
		f.Status = store.FileStatusFailed
		f.ErrorMessage = &msg
		f.LastError = &msg
		f.NextRetryAt = nil
		return r.files.Update(ctx, f)
	}

	nextAttempt := f.AttemptCount + 1
	retryAt := r.now().UTC().Add(backoffFor(nextAttempt))
	msg := fmt.Sprintf("Retry scheduled (%s), attempt %d", reason, nextAttempt)
	f.Status = store.FileStatusPending
	f.NextRetryAt = &retryAt
	f.LastError = &msg
	return r.files.Update(ctx, f)
}

func (r *Reaper) processDueRetries(ctx context.Context) error {
	due, err := r.files.ListDueRetries(ctx, r.now().UTC())
	if err != nil {
		return err
	}
	for i := range due {
		f := &due[i]
		slog.Info("reaper.retry", "file_id", f.ID, "attempt", f.AttemptCount+1)
		if err := r.proc.Process(ctx, f.ID); err != nil {
			slog.Error("reaper.process", "file_id", f.ID, "error", err)
		}
	}
	return nil
}
