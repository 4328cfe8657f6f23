// Package example is the template for writing a block. It declares one
// property of each kind and leaves every hook at its default behaviour;
// copy it and fill in the hooks a real block needs.
package example

import (
	"context"

	"github.com/fluxorio/blockflow/pkg/block"
	"github.com/fluxorio/blockflow/pkg/core"
	"github.com/fluxorio/blockflow/pkg/discovery"
	"github.com/fluxorio/blockflow/pkg/property"
)

// TypeName is the discovery name of the example block.
const TypeName = "Example"

// Property names.
const (
	PropString = "sProp"
	PropBool   = "bProp"
	PropInt    = "iProp"
)

// Schema declares the example block's properties.
var Schema = property.MustSchema(
	property.String(PropString, "String", ""),
	property.Bool(PropBool, "Boolean", true),
	property.Int(PropInt, "Integer", 1),
	property.Version("0.0.1"),
)

func init() {
	discovery.Register(TypeName, New, Schema)
}

// Example is a block that forwards every batch it receives.
type Example struct {
	block.Base
}

// New constructs an Example. Properties are not available until the host
// has configured the block.
func New() block.Block {
	return &Example{}
}

// Configure runs after the host has populated sProp, bProp, iProp and
// version. Read them with e.Properties().
func (e *Example) Configure(ctx *block.Context) error {
	return e.Base.Configure(ctx)
}

// Start is called once every block in the service is configured.
func (e *Example) Start(ctx context.Context) error {
	return e.Base.Start(ctx)
}

// ProcessSignals handles a batch routed to inputID. Emit results with
// e.NotifySignals rather than returning them.
func (e *Example) ProcessSignals(signals []*core.Signal, inputID string) error {
	return e.Base.ProcessSignals(signals, inputID)
}

// Stop is called when the service shuts down.
func (e *Example) Stop(ctx context.Context) error {
	return e.Base.Stop(ctx)
}
