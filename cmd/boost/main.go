package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"boostplane/internal/httpapi"
	"boostplane/pkg/asynq"
	"boostplane/pkg/config"
	"boostplane/pkg/db"
	"boostplane/pkg/events"
	"boostplane/pkg/gen"
	"boostplane/pkg/health"
	"boostplane/pkg/logger"
	"boostplane/pkg/random"
	"boostplane/pkg/redis"
	"boostplane/pkg/server"
	"boostplane/services/audience"
	"boostplane/services/boost"
	"boostplane/services/ledger"
	"boostplane/services/redemption"
	"boostplane/services/reward"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		asynq.Client,
		gen.Module,
		random.Module,
		events.Module,
		health.Module,
		ledger.Module,
		audience.Module,
		reward.Module,
		redemption.Module,
		boost.Module,
		httpapi.Module,
		server.ProvideHTTPServer,
		fx.Invoke(migrate),
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

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&boost.Boost{},
		&boost.AccountStatus{},
		&boost.Log{},
		&audience.Account{},
		&ledger.LedgerEntry{},
		&ledger.Balance{},
	)
}
