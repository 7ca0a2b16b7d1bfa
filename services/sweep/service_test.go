package sweep

import (
	"context"
	"errors"
	"testing"
	"time"

	queue "boostplane/pkg/asynq"
	"boostplane/pkg/taskname"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeEnqueuer struct {
	tasks    []string
	payloads [][]byte
	failure  error
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.failure != nil {
		return nil, f.failure
	}
	f.tasks = append(f.tasks, task.Type())
	f.payloads = append(f.payloads, task.Payload())
	return &asynq.TaskInfo{}, nil
}

type fakeSweeper struct {
	expiries    int
	tournaments int
}

func (f *fakeSweeper) ExpireDueBoosts(ctx context.Context) error {
	f.expiries++
	return nil
}

func (f *fakeSweeper) EndFinishedTournaments(ctx context.Context) error {
	f.tournaments++
	return nil
}

func TestEnqueueSweepQueuesBothTasks(t *testing.T) {
	enqueuer := &fakeEnqueuer{}
	svc := NewService(Params{Asynq: enqueuer, Boosts: &fakeSweeper{}})

	require.NoError(t, svc.EnqueueSweep(context.Background()))
	require.Equal(t, []string{taskname.BoostExpiryRun, taskname.BoostTournamentEnd}, enqueuer.tasks)

	// both tasks carry the enqueue timestamp for the worker to report
	for _, raw := range enqueuer.payloads {
		p, err := queue.ParseSweepPayload(raw)
		require.NoError(t, err)
		require.False(t, p.EnqueuedAt.IsZero())
	}
}

func TestEnqueueSweepPropagatesFailure(t *testing.T) {
	enqueuer := &fakeEnqueuer{failure: errors.New("redis down")}
	svc := NewService(Params{Asynq: enqueuer, Boosts: &fakeSweeper{}})

	require.Error(t, svc.EnqueueSweep(context.Background()))
}

func TestHandlersDispatchToBoostService(t *testing.T) {
	sweeper := &fakeSweeper{}
	svc := NewService(Params{Asynq: &fakeEnqueuer{}, Boosts: sweeper})
	ctx := context.Background()

	require.NoError(t, svc.HandleExpiryRun(ctx, asynq.NewTask(taskname.BoostExpiryRun, nil)))
	require.NoError(t, svc.HandleTournamentEnd(ctx, asynq.NewTask(taskname.BoostTournamentEnd, nil)))

	require.Equal(t, 1, sweeper.expiries)
	require.Equal(t, 1, sweeper.tournaments)
}

func TestNextRunTime(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 30, 0, 0, time.UTC)

	next := nextRunTime(now, 1, 0)
	require.Equal(t, time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC), next)

	afterward := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
	next = nextRunTime(afterward, 1, 0)
	require.Equal(t, time.Date(2026, 3, 11, 1, 0, 0, 0, time.UTC), next)
}
