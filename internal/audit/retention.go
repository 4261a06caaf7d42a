package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/across/internal/store"
)

// Retention prunes audit entries older than the retention window on a
// cron schedule.
type Retention struct {
	store    store.AuditStore
	schedule string
	keep     time.Duration

	gron *gronx.Gronx
	now  func() time.Time
}

func NewRetention(s store.AuditStore, schedule string, retentionDays int) *Retention {
	return &Retention{
		store:    s,
		schedule: schedule,
		keep:     time.Duration(retentionDays) * 24 * time.Hour,
		gron:     gronx.New(),
		now:      time.Now,
	}
}

// Run fires the prune whenever the cron expression is due, checking once
// a minute. Blocks until ctx is cancelled.
func (r *Retention) Run(ctx context.Context) {
	if !r.gron.IsValid(r.schedule) {
		slog.Error("audit.retention invalid schedule", "schedule", r.schedule)
		return
	}
	slog.Info("audit.retention started", "schedule", r.schedule, "retention", r.keep)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := r.gron.IsDue(r.schedule, r.now())
			if err != nil || !due {
				continue
			}
			r.Prune(ctx)
		}
	}
}

// Prune deletes entries past the retention window.
func (r *Retention) Prune(ctx context.Context) {
	cutoff := r.now().UTC().Add(-r.keep)
	deleted, err := r.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("audit.retention prune failed", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("audit.retention pruned", "deleted", deleted, "cutoff", cutoff)
	}
}
