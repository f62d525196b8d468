package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Retention purges records older than MaxAge each time Schedule fires.
type Retention struct {
	store    *Store
	schedule string
	maxAge   time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewRetention(store *Store, schedule string, maxAge time.Duration, logger *slog.Logger) *Retention {
	return &Retention{store: store, schedule: schedule, maxAge: maxAge, logger: logger, now: time.Now}
}

// Run purges once, then on every schedule tick until ctx is done.
func (r *Retention) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(r.schedule, func() { _, _ = r.PurgeOnce(ctx) }); err != nil {
		return fmt.Errorf("audit purge schedule %q: %w", r.schedule, err)
	}

	_, _ = r.PurgeOnce(ctx)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (r *Retention) PurgeOnce(ctx context.Context) (int64, error) {
	cutoff := r.now().Add(-r.maxAge)
	n, err := r.store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		r.logError("audit_purge_failed", "error", err)
		return 0, err
	}
	if n > 0 {
		r.logInfo("audit_purged", "records", n, "cutoff", cutoff.Format(time.RFC3339))
	}
	return n, nil
}

func (r *Retention) logInfo(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Info(msg, args...)
	}
}

func (r *Retention) logError(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Error(msg, args...)
	}
}
