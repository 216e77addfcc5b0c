package intake

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

const (
	// DefaultRetentionDays is the horizon used when no override is given.
	DefaultRetentionDays = 14

	// MaxRetentionDays caps the horizon to prevent pathological no-op or
	// unbounded-scan configuration.
	MaxRetentionDays = 365
)

// ClampRetentionDays bounds a requested horizon to [1, MaxRetentionDays],
// substituting def for non-positive values.
func ClampRetentionDays(days, def int) int {
	if days <= 0 {
		days = def
	}
	if days > MaxRetentionDays {
		return MaxRetentionDays
	}
	return days
}

// Retention prunes events past the retention horizon and records one audit
// row per run. Runs are idempotent: with no intervening inserts a second run
// deletes zero rows and still appends a run record. Overlapping runs on the
// same horizon must be serialized by the caller.
type Retention struct {
	store   Store
	logger  log.Logger
	metrics *Metrics
}

// NewRetention creates the retention manager.
func NewRetention(store Store, logger log.Logger, m *Metrics) *Retention {
	if logger == nil {
		logger = log.Nop()
	}
	return &Retention{store: store, logger: logger, metrics: m}
}

// Run deletes events older than days and returns the audit record. The
// deletion summary is computed by the store over exactly the rows removed.
func (r *Retention) Run(ctx context.Context, days int) (*RetentionRun, error) {
	days = ClampRetentionDays(days, DefaultRetentionDays)

	now := time.Now().UTC()
	cutoff := now.AddDate(0, 0, -days)

	summary, err := r.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		r.metrics.StoreErrors.WithLabelValues("delete_before").Inc()
		return nil, fmt.Errorf("delete before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	run := &RetentionRun{
		RanAt:            now,
		RetentionDays:    days,
		Deleted:          summary.Count,
		Honeypot:         summary.Honeypot,
		OldestDeleted:    summary.Oldest,
		NewestDeleted:    summary.Newest,
		ByClassification: summary.ByClassification,
	}

	if err := r.store.InsertRetentionRun(ctx, run); err != nil {
		r.metrics.StoreErrors.WithLabelValues("retention_log").Inc()
		return nil, fmt.Errorf("record retention run: %w", err)
	}

	r.metrics.RetentionRuns.Inc()
	r.metrics.RetentionDeleted.Add(float64(summary.Count))

	r.logger.Info(ctx, "retention run complete",
		"retention_days", days,
		"deleted", summary.Count,
		"honeypot_deleted", summary.Honeypot,
	)

	return run, nil
}
