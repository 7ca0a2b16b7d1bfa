package sweep

import (
	"context"
	"time"

	queue "boostplane/pkg/asynq"
	"boostplane/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// BoostSweeper is the slice of the boost service the sweep drives.
type BoostSweeper interface {
	ExpireDueBoosts(ctx context.Context) error
	EndFinishedTournaments(ctx context.Context) error
}

// TaskEnqueuer is the asynq client capability the scheduler uses.
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Service enqueues the periodic sweep tasks and handles them on the worker
// side. Expiry and tournament-end run as separate tasks so a slow tournament
// never delays ordinary expiry.
type Service struct {
	asynq  TaskEnqueuer
	boosts BoostSweeper
}

type Params struct {
	fx.In
	Asynq  TaskEnqueuer
	Boosts BoostSweeper
}

func NewService(p Params) *Service {
	return &Service{
		asynq:  p.Asynq,
		boosts: p.Boosts,
	}
}

// EnqueueSweep queues one expiry run and one tournament-end run.
func (s *Service) EnqueueSweep(ctx context.Context) error {
	now := time.Now()
	builders := []struct {
		name  string
		build func(time.Time) (*asynq.Task, error)
	}{
		{taskname.BoostExpiryRun, queue.NewBoostExpiryTask},
		{taskname.BoostTournamentEnd, queue.NewTournamentEndTask},
	}
	for _, b := range builders {
		task, err := b.build(now)
		if err != nil {
			return err
		}
		if _, err := s.asynq.Enqueue(task, asynq.Queue("default")); err != nil {
			return err
		}
		zap.L().Info("enqueued sweep task", zap.String("task_type", b.name))
	}
	return nil
}

// HandleExpiryRun is the asynq worker handler for boost expiry.
func (s *Service) HandleExpiryRun(ctx context.Context, t *asynq.Task) error {
	p, err := queue.ParseSweepPayload(t.Payload())
	if err != nil {
		return err
	}
	zap.L().Info("running boost expiry sweep", zap.Time("enqueued_at", p.EnqueuedAt))
	return s.boosts.ExpireDueBoosts(ctx)
}

// HandleTournamentEnd is the asynq worker handler for finished tournaments.
func (s *Service) HandleTournamentEnd(ctx context.Context, t *asynq.Task) error {
	p, err := queue.ParseSweepPayload(t.Payload())
	if err != nil {
		return err
	}
	zap.L().Info("running tournament end sweep", zap.Time("enqueued_at", p.EnqueuedAt))
	return s.boosts.EndFinishedTournaments(ctx)
}

func RegisterHandlers(mux *asynq.ServeMux, svc *Service) {
	mux.HandleFunc(taskname.BoostExpiryRun, svc.HandleExpiryRun)
	mux.HandleFunc(taskname.BoostTournamentEnd, svc.HandleTournamentEnd)
}
