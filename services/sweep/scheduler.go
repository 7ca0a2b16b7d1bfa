package sweep

import (
	"context"
	"time"

	"boostplane/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Scheduler struct {
	service *Service
	hour    int
	minute  int
}

func NewScheduler(svc *Service, cfg *config.Config) *Scheduler {
	return &Scheduler{
		service: svc,
		hour:    cfg.Boost.SweepHour,
		minute:  cfg.Boost.SweepMinute,
	}
}

// StartScheduler hooks the daily sweep loop into the fx lifecycle.
func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go s.run(context.Background())
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started boost sweep scheduler")

	for {
		now := time.Now()
		next := nextRunTime(now, s.hour, s.minute)

		zap.L().Info("[Scheduler] next sweep scheduled",
			zap.Time("next_run", next),
			zap.Duration("sleep_for", next.Sub(now)),
		)
		select {
		case <-time.After(next.Sub(now)):
			s.runSweep(ctx)
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) runSweep(ctx context.Context) {
	start := time.Now()

	if err := s.service.EnqueueSweep(ctx); err != nil {
		zap.L().Error("[Scheduler] failed to enqueue sweep", zap.Error(err))
		return
	}

	zap.L().Info("[Scheduler] sweep enqueued",
		zap.Duration("duration", time.Since(start)),
	)
}

// nextRunTime returns the next occurrence of the configured time of day.
func nextRunTime(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if now.After(next) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
