package main

import (
	"context"
	"flag"
	"log"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"boostplane/pkg/config"
	"boostplane/pkg/db"
	"boostplane/pkg/gen"
	"boostplane/pkg/logger"
	"boostplane/pkg/money"
	"boostplane/services/ledger"
)

// Seeds the configured bonus pool with an opening balance so boosts have
// funds to pay out from.
func main() {
	amount := flag.Int64("amount", 0, "opening balance in hundredth cents")
	currency := flag.String("currency", "USD", "pool currency")
	flag.Parse()

	if *amount <= 0 {
		log.Fatal("amount must be positive")
	}

	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		gen.Module,
		ledger.Module,
		fx.Invoke(func(database *gorm.DB, cfg *config.Config, svc *ledger.Service, shutdowner fx.Shutdowner) error {
			if err := database.AutoMigrate(&ledger.LedgerEntry{}, &ledger.Balance{}); err != nil {
				return err
			}

			entry, err := svc.Deposit(context.Background(), cfg.Boost.BonusPoolID, ledger.AccountTypeBonusPool,
				*amount, money.UnitHundredthCent, *currency, "seed")
			if err != nil {
				return err
			}

			zap.L().Info("bonus pool seeded",
				zap.String("pool_id", cfg.Boost.BonusPoolID),
				zap.Int64("amount", *amount),
				zap.String("transaction_id", entry.TransactionID))
			return shutdowner.Shutdown()
		}),
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}
