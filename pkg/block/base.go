package block

import (
	"context"
	"sync"

	"github.com/fluxorio/blockflow/pkg/core"
	"github.com/fluxorio/blockflow/pkg/property"
)

// Base is a default implementation of the Block hooks. Blocks embed it to
// avoid having to implement all methods.
type Base struct {
	mu       sync.RWMutex
	name     string
	typ      string
	values   property.Values
	notifier Notifier
	logger   core.Logger
	store    StateStore
}

// BaseBlock returns b.
func (b *Base) BaseBlock() *Base {
	return b
}

// Configure is the default hook. It only checks ctx.
func (b *Base) Configure(ctx *Context) error {
	return ctx.Validate()
}

// Start is a no-op implementation.
func (b *Base) Start(ctx context.Context) error {
	return nil
}

// ProcessSignals forwards the batch unchanged on the default output.
func (b *Base) ProcessSignals(signals []*core.Signal, inputID string) error {
	return b.NotifySignals(signals, core.DefaultTerminal)
}

// Stop is a no-op implementation.
func (b *Base) Stop(ctx context.Context) error {
	return nil
}

// NotifySignals emits signals on outputID. signals may be a single
// *core.Signal, a []*core.Signal or a []interface{} of signals; anything
// else, maps included, fails with core.ErrInvalidSignals. An empty outputID
// selects the default output.
func (b *Base) NotifySignals(signals interface{}, outputID string) error {
	batch, err := core.ToSignals(signals)
	if err != nil {
		return err
	}
	if outputID == "" {
		outputID = core.DefaultTerminal
	}

	b.mu.RLock()
	notifier, name := b.notifier, b.name
	b.mu.RUnlock()
	if notifier == nil {
		return &core.EventBusError{Code: core.ErrInvalidState.Code, Message: "block is not configured: no router to notify"}
	}
	return notifier.Notify(name, outputID, batch)
}

// Name returns the block instance name.
func (b *Base) Name() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.name
}

// Type returns the discovery type the block was built from.
func (b *Base) Type() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.typ
}

// Properties returns the populated property values.
func (b *Base) Properties() property.Values {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.values
}

// Logger returns the block-scoped logger.
func (b *Base) Logger() core.Logger {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.logger == nil {
		return core.NewNopLogger()
	}
	return b.logger
}

// Persistence returns the block-scoped store, or nil when the host has none.
func (b *Base) Persistence() StateStore {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.store
}

func (b *Base) bind(ctx *Context, values property.Values) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.name = ctx.Name
	b.typ = ctx.Type
	b.values = values
	b.notifier = ctx.Notifier
	b.logger = ctx.Logger
	b.store = ctx.Persistence
}
