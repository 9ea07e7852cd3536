// Package pipeline runs scheduled background jobs over the ledger.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/amadeodlp/cryptara/internal/domain"
)

// ArchiveJob copies completed days of transaction history to cold storage.
type ArchiveJob struct {
	archiver     domain.Archiver
	lookbackDays int
	logger       *slog.Logger
	now          func() time.Time
}

// NewArchiveJob creates an ArchiveJob covering the last lookbackDays
// complete UTC days.
func NewArchiveJob(archiver domain.Archiver, lookbackDays int, logger *slog.Logger) *ArchiveJob {
	if lookbackDays < 1 {
		lookbackDays = 1
	}
	return &ArchiveJob{
		archiver:     archiver,
		lookbackDays: lookbackDays,
		logger:       logger.With(slog.String("component", "archive_job")),
		now:          time.Now,
	}
}

// Run executes a single archive pass over every complete day in the window,
// oldest first. Days already in storage are skipped by the archiver.
func (a *ArchiveJob) Run(ctx context.Context) error {
	today := a.now().UTC().Truncate(24 * time.Hour)
	first := today.AddDate(0, 0, -a.lookbackDays)

	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("from", first),
		slog.Time("before", today),
	)

	var total int64
	for d := first; d.Before(today); d = d.AddDate(0, 0, 1) {
		n, err := a.archiver.ArchiveDay(ctx, d)
		if err != nil {
			return fmt.Errorf("archiving %s: %w", d.Format(time.DateOnly), err)
		}
		total += n
	}

	a.logger.InfoContext(ctx, "archive run complete", slog.Int64("records_archived", total))
	return nil
}

// RunCron runs the job on a standard 5-field cron schedule until ctx is
// cancelled, e.g. "0 2 * * *" for 02:00 UTC daily. A failed run is logged
// and the schedule continues.
func (a *ArchiveJob) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
	}
	a.logger.InfoContext(ctx, "archiver cron started", slog.String("cron", cronExpr))

	for {
		next := sched.Next(a.now().UTC())
		wait := time.Until(next)
		a.logger.DebugContext(ctx, "archiver waiting for next cron trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
			if err := a.Run(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
