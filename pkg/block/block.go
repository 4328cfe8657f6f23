// Package block defines the contract between a block plugin and the host
// that constructs, configures, starts, feeds and stops it.
package block

import (
	"context"

	"github.com/fluxorio/blockflow/pkg/core"
	"github.com/fluxorio/blockflow/pkg/property"
)

// Block is the interface every block plugin implements. It is similar to a
// Vert.x Verticle, with signal processing added.
//
// Blocks embed Base, which supplies no-op defaults for every hook and the
// NotifySignals output.
type Block interface {
	// BaseBlock returns the embedded Base the host configures.
	BaseBlock() *Base

	// Configure is called once after the host has validated ctx and
	// populated the block's declared properties. Properties are readable
	// through Base.Properties from here on.
	Configure(ctx *Context) error

	// Start is called after every block in the service is configured.
	Start(ctx context.Context) error

	// ProcessSignals is called with each batch routed to inputID. Results
	// are emitted through NotifySignals, never returned.
	ProcessSignals(signals []*core.Signal, inputID string) error

	// Stop is called when the service shuts down. Other blocks and host
	// modules remain available while it runs.
	Stop(ctx context.Context) error
}

// Notifier delivers a block's output downstream.
// Notify must not wait for downstream processing.
type Notifier interface {
	Notify(from, outputID string, signals []*core.Signal) error
}

// StateStore is the block-scoped persistence the host hands to a block.
type StateStore interface {
	Load(ctx context.Context, key string, v interface{}) (bool, error)
	Save(ctx context.Context, key string, v interface{}) error
	Delete(ctx context.Context, key string) error
}

// Context carries configuration data and host capabilities to a block at
// configure time.
type Context struct {
	// Name is the block instance name.
	Name string
	// Type is the discovery type name the block was built from.
	Type string
	// Properties holds the raw configured property values.
	Properties map[string]interface{}
	// Schema declares the properties the block type understands.
	Schema property.Schema
	// Notifier receives everything the block emits.
	Notifier Notifier
	// Logger is scoped to the block.
	Logger core.Logger
	// Persistence is optional block-scoped state storage.
	Persistence StateStore
}

// Validate reports ErrInvalidContext when ctx lacks what a block needs.
func (ctx *Context) Validate() error {
	if ctx == nil {
		return invalidContext("context is nil")
	}
	if err := core.ValidateBlockName(ctx.Name); err != nil {
		return invalidContext(err.Error())
	}
	if ctx.Notifier == nil {
		return invalidContext("context has no router to notify")
	}
	return nil
}

func invalidContext(reason string) error {
	return &core.EventBusError{Code: core.ErrInvalidContext.Code, Message: "invalid block context: " + reason}
}
