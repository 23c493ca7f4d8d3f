package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/ratecore/internal/notify"
)

// SnapshotTaker captures the accounting state to cold storage.
type SnapshotTaker interface {
	Take(ctx context.Context) (string, error)
}

// Alerter forwards operator alerts; *notify.Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Archiver snapshots index and SOAP state to object storage on a schedule.
type Archiver struct {
	snapshots SnapshotTaker
	alerts    Alerter
	logger    *slog.Logger
	now       func() time.Time
}

// NewArchiver creates a new Archiver.
func NewArchiver(snapshots SnapshotTaker, logger *slog.Logger) *Archiver {
	return &Archiver{
		snapshots: snapshots,
		logger:    logger,
		now:       time.Now,
	}
}

// WithAlerts sends archive.completed and archive.failed alerts through al.
func (a *Archiver) WithAlerts(al Alerter) *Archiver {
	a.alerts = al
	return a
}

// Run takes a single snapshot.
func (a *Archiver) Run(ctx context.Context) error {
	start := a.now()
	key, err := a.snapshots.Take(ctx)
	if err != nil {
		a.alert(ctx, notify.EventArchiveFailed, "Snapshot failed", err.Error())
		return fmt.Errorf("pipeline: snapshot: %w", err)
	}
	elapsed := a.now().Sub(start)
	a.logger.Info("snapshot archived",
		slog.String("path", key),
		slog.Duration("elapsed", elapsed),
	)
	a.alert(ctx, notify.EventArchiveCompleted, "Snapshot archived",
		fmt.Sprintf("%s in %s", key, elapsed.Round(time.Millisecond)))
	return nil
}

// alert failures never fail the run.
func (a *Archiver) alert(ctx context.Context, event, title, message string) {
	if a.alerts == nil {
		return
	}
	if err := a.alerts.Notify(ctx, event, title, message); err != nil {
		a.logger.Warn("archive alert not delivered",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// RunCron runs the archiver on a standard 5-field cron schedule (or a
// descriptor such as "@hourly") until the context is cancelled. A failed run
// is logged and the schedule continues.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return fmt.Errorf("pipeline: parse cron %q: %w", cronExpr, err)
	}
	a.logger.Info("archiver cron started", slog.String("cron", cronExpr))

	for {
		next := sched.Next(a.now().UTC())
		wait := time.Until(next)
		a.logger.Debug("archiver waiting for next trigger",
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
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
