package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/soaringjerry/opine/internal/config"
	"github.com/soaringjerry/opine/internal/services"
)

// jobTimeout bounds one scheduled run so a stuck store never piles runs up.
const jobTimeout = 30 * time.Minute

// cronLogger adapts slog to cron's logger interface.
type cronLogger struct{ logger *slog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}

type scheduledJob struct {
	name string
	spec string
	run  func(ctx context.Context) (*services.RunReport, error)
}

// startScheduler registers the maintenance jobs that have a cron spec.
// Overlapping runs of the same job are skipped.
func startScheduler(sc config.ScheduleConfig, maint *services.MaintenanceService, logger *slog.Logger) (*cron.Cron, error) {
	clog := cronLogger{logger: logger.With("component", "scheduler")}
	c := cron.New(cron.WithLogger(clog), cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)))

	jobs := []scheduledJob{
		{"dedup_sweep", sc.DedupSweep, func(ctx context.Context) (*services.RunReport, error) {
			return maint.DedupSweep(ctx, services.BatchOptions{})
		}},
		{"repair_invariants", sc.Repair, func(ctx context.Context) (*services.RunReport, error) {
			return maint.RepairInvariants(ctx, services.BatchOptions{})
		}},
		{"reevaluate", sc.Reevaluate, func(ctx context.Context) (*services.RunReport, error) {
			return maint.Reevaluate(ctx, "", services.BatchOptions{})
		}},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		job := j
		if _, err := c.AddFunc(job.spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			if _, err := job.run(ctx); err != nil {
				logger.Error("scheduled job failed", "job", job.name, "error", err)
			}
		}); err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", job.name, job.spec, err)
		}
		logger.Info("scheduled maintenance job", "job", job.name, "spec", job.spec)
	}
	c.Start()
	return c, nil
}
