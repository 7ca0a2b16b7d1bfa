package boost

import (
	"boostplane/pkg/events"
	"boostplane/services/audience"
	"boostplane/services/redemption"

	"go.uber.org/fx"
)

var Module = fx.Module("boost.service",
	fx.Provide(
		NewStore,
		NewService,
		func(s *Store) redemption.StatusStore { return s },
		func(svc *audience.Service) AudienceClient { return svc },
		func(svc *redemption.Service) Redeemer { return svc },
		func(pub *events.Publisher) EventPublisher { return pub },
		func(pub *events.Publisher) MessageClient { return pub },
	),
)
