package sweep

import (
	"github.com/hibiken/asynq"
	"go.uber.org/fx"

	"boostplane/services/boost"
)

var Module = fx.Module("sweep.service",
	fx.Provide(
		NewService,
		NewScheduler,
		func(client *asynq.Client) TaskEnqueuer { return client },
		func(svc *boost.Service) BoostSweeper { return svc },
	),
	fx.Invoke(
		RegisterHandlers,
		StartScheduler,
	),
)
