package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"boostplane/pkg/asynq"
	"boostplane/pkg/config"
	"boostplane/pkg/db"
	"boostplane/pkg/events"
	"boostplane/pkg/gen"
	"boostplane/pkg/logger"
	"boostplane/pkg/random"
	"boostplane/pkg/redis"
	"boostplane/services/audience"
	"boostplane/services/boost"
	"boostplane/services/ledger"
	"boostplane/services/redemption"
	"boostplane/services/reward"
	"boostplane/services/sweep"
)

// The sweep worker runs the asynq server: it consumes the expiry and
// tournament-end tasks its own scheduler enqueues.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		asynq.Client,
		asynq.Server,
		gen.Module,
		random.Module,
		events.Module,
		ledger.Module,
		audience.Module,
		reward.Module,
		redemption.Module,
		boost.Module,
		sweep.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
