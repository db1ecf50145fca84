package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// CleanupFunc performs one maintenance pass; typically store.Store.Cleanup.
type CleanupFunc func(ctx context.Context, maxAge time.Duration) error

// Maintenance runs the database's cleanup(maxAgeMs) operation on a cron
// schedule. Unlike the per-room ms-granularity timers (see Scheduler),
// this job is naturally cron-shaped housekeeping, so it is backed by
// gocron rather than another raw ticker.
type Maintenance struct {
	cron gocron.Scheduler
	log  *zap.Logger
}

// NewMaintenance creates a Maintenance scheduler. cronExpr follows the
// standard five-field cron syntax, e.g. "0 3 * * *" for nightly at 03:00.
func NewMaintenance(log *zap.Logger, cronExpr string, maxAge time.Duration, cleanup CleanupFunc) (*Maintenance, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("maintenance: create gocron scheduler: %w", err)
	}

	_, err = s.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := cleanup(ctx, maxAge); err != nil {
				log.Error("maintenance cleanup failed", zap.Error(err))
				return
			}
			log.Info("maintenance cleanup complete", zap.Duration("maxAge", maxAge))
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("maintenance: schedule cleanup job: %w", err)
	}

	return &Maintenance{cron: s, log: log.Named("maintenance")}, nil
}

func (m *Maintenance) Start() {
	m.cron.Start()
}

func (m *Maintenance) Stop() error {
	if err := m.cron.Shutdown(); err != nil {
		return fmt.Errorf("maintenance: shutdown: %w", err)
	}
	return nil
}
