package audience

import (
	"go.uber.org/fx"
)

var Module = fx.Module("audience.service",
	fx.Provide(NewService),
)
