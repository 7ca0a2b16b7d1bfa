package redemption

import (
	"boostplane/pkg/events"
	"boostplane/services/ledger"

	"go.uber.org/fx"
)

var Module = fx.Module("redemption.service",
	fx.Provide(
		NewService,
		func(svc *ledger.Service) TransferClient { return svc },
		func(pub *events.Publisher) EventPublisher { return pub },
		func(pub *events.Publisher) MessageClient { return pub },
	),
)
