package block

import (
	"github.com/fluxorio/blockflow/pkg/core"
)

// Configure runs the host side of block configuration: it validates ctx,
// populates the declared properties and binds them to the block's Base,
// then calls the block's own Configure hook.
func Configure(b Block, ctx *Context) error {
	if b == nil || b.BaseBlock() == nil {
		return &core.EventBusError{Code: core.ErrInvalidState.Code, Message: "block is nil"}
	}
	if err := ctx.Validate(); err != nil {
		return err
	}
	if ctx.Logger == nil {
		ctx.Logger = core.NewNopLogger()
	}

	values, unknown, err := ctx.Schema.Populate(ctx.Properties)
	if err != nil {
		return err
	}
	if len(unknown) > 0 {
		ctx.Logger.WithFields(map[string]interface{}{"properties": unknown}).Info("ignoring undeclared properties")
	}

	b.BaseBlock().bind(ctx, values)
	return b.Configure(ctx)
}
