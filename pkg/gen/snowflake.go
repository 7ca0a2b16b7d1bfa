package gen

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

var Module = fx.Module("snowflake",
	fx.Provide(NewNode),
)

func NewNode() (*snowflake.Node, error) {
	// nodeID 1, override per deployment when running more than one instance
	return snowflake.NewNode(1)
}
