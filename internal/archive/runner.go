// Package archive moves aged settlement records from the database to S3 cold
// storage on a fixed interval or a cron schedule.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/klashlabs/klash-engine/internal/domain"
)

// Runner drives periodic archive runs against a domain.Archiver.
type Runner struct {
	archiver      domain.Archiver
	retentionDays int
	logger        *slog.Logger
}

// NewRunner creates a Runner archiving records older than retentionDays.
func NewRunner(archiver domain.Archiver, retentionDays int, logger *slog.Logger) *Runner {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &Runner{
		archiver:      archiver,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archive")),
	}
}

// Run executes a single archive run. It calculates the cutoff from the
// retention window and archives resolutions and audit entries older than it.
func (r *Runner) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-time.Duration(r.retentionDays) * 24 * time.Hour)
	r.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", r.retentionDays),
	)

	resolutions, err := r.archiver.ArchiveResolutions(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving resolutions before %v: %w", cutoff, err)
	}

	audit, err := r.archiver.ArchiveAudit(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving audit entries before %v: %w", cutoff, err)
	}

	r.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("resolutions_archived", resolutions),
		slog.Int64("audit_archived", audit),
	)
	return nil
}

// RunLoop runs the archiver on a fixed interval until the context is
// cancelled. Run errors are logged and do not stop the loop.
func (r *Runner) RunLoop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.InfoContext(ctx, "archiver started", slog.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Run(ctx); err != nil {
				r.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// RunCron runs the archiver on a cron schedule until the context is cancelled.
// It supports cron expressions in the standard 5-field format:
// "minute hour day-of-month month day-of-week"
//
// Example: "0 3 1 * *" runs at 3:00 AM on the 1st of every month.
func (r *Runner) RunCron(ctx context.Context, cronExpr string) error {
	r.logger.InfoContext(ctx, "archiver cron started", slog.String("cron", cronExpr))

	for {
		next, err := nextCronTime(cronExpr, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
		}

		wait := time.Until(next)
		r.logger.InfoContext(ctx, "archiver waiting for next cron trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.InfoContext(ctx, "archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
			if err := r.Run(ctx); err != nil {
				r.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
