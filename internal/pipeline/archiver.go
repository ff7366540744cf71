// Package pipeline runs background jobs over persisted history.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/treasurechest/internal/domain"
)

// archiveLockKey is shared by every instance writing to the same bucket.
const archiveLockKey = "history-archive"

// archiveLockTTL bounds how long a crashed holder blocks other instances.
const archiveLockTTL = 10 * time.Minute

// Archiver copies persisted outcome events past the retention window to cold
// storage on a cron schedule. With a LockManager only one instance runs each
// trigger.
type Archiver struct {
	blobArchiver  domain.Archiver
	locks         domain.LockManager
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time
}

// NewArchiver creates an Archiver. locks may be nil for a single instance.
func NewArchiver(blobArchiver domain.Archiver, locks domain.LockManager, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		locks:         locks,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
		now:           time.Now,
	}
}

// Cutoff is the start of the UTC day retentionDays before now, so every run
// on the same day targets the same archive object.
func (a *Archiver) Cutoff() time.Time {
	day := a.now().UTC().Truncate(24 * time.Hour)
	return day.Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
}

// Run executes one archive pass. It returns nil without archiving when
// another instance holds the lock.
func (a *Archiver) Run(ctx context.Context) error {
	if a.locks != nil {
		unlock, err := a.locks.Acquire(ctx, archiveLockKey, archiveLockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.InfoContext(ctx, "archive skipped, another instance holds the lock")
			return nil
		}
		if err != nil {
			return fmt.Errorf("pipeline: archive lock: %w", err)
		}
		defer unlock()
	}

	cutoff := a.Cutoff()
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	n, err := a.blobArchiver.ArchiveOutcomes(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archive outcomes before %s: %w", cutoff.Format(time.DateOnly), err)
	}
	a.logger.InfoContext(ctx, "archive run complete", slog.Int64("outcomes_archived", n))
	return nil
}

// RunCron runs the archiver on a 5-field cron schedule until ctx is done.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := parseCron(cronExpr)
	if err != nil {
		return fmt.Errorf("pipeline: cron %q: %w", cronExpr, err)
	}
	a.logger.InfoContext(ctx, "archiver cron started", slog.String("cron", cronExpr))

	for {
		next, err := sched.next(a.now().UTC())
		if err != nil {
			return fmt.Errorf("pipeline: cron %q: %w", cronExpr, err)
		}

		wait := time.Until(next)
		a.logger.DebugContext(ctx, "archiver waiting for next cron trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.InfoContext(ctx, "archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
			if err := a.Run(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
