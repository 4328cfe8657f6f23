// Package discovery keeps the block types a host can construct by name.
package discovery

import (
	"fmt"
	"sort"
	"sync"

	"github.com/fluxorio/blockflow/pkg/block"
	"github.com/fluxorio/blockflow/pkg/core"
	"github.com/fluxorio/blockflow/pkg/property"
)

// Factory constructs a new, unconfigured block instance.
type Factory func() block.Block

// Registration describes one discoverable block type.
type Registration struct {
	Type    string
	Factory Factory
	Schema  property.Schema
}

// TypeDescription is the serialisable view of a registration.
type TypeDescription struct {
	Type       string                 `json:"type" yaml:"type"`
	Properties []property.Description `json:"properties" yaml:"properties"`
}

// Registry maps block type names to their factories and schemas.
type Registry struct {
	mu    sync.RWMutex
	types map[string]Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]Registration)}
}

// Default is the registry block packages register themselves with from init.
var Default = NewRegistry()

// Register adds a block type. Registering the same type twice is an error.
func (r *Registry) Register(typeName string, factory Factory, schema property.Schema) error {
	if typeName == "" {
		return fmt.Errorf("block type name cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("block type %q: factory cannot be nil", typeName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[typeName]; exists {
		return fmt.Errorf("block type %q already registered", typeName)
	}
	r.types[typeName] = Registration{Type: typeName, Factory: factory, Schema: schema}
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(typeName string, factory Factory, schema property.Schema) {
	if err := r.Register(typeName, factory, schema); err != nil {
		core.FailFast(err)
	}
}

// Lookup returns the registration for typeName, or ErrUnknownBlockType.
func (r *Registry) Lookup(typeName string) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.types[typeName]
	if !ok {
		return Registration{}, &core.EventBusError{
			Code:    core.ErrUnknownBlockType.Code,
			Message: fmt.Sprintf("unknown block type %q", typeName),
		}
	}
	return reg, nil
}

// Types returns the registered type names in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns a description of every registered type, sorted by type.
func (r *Registry) Describe() []TypeDescription {
	names := r.Types()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TypeDescription, 0, len(names))
	for _, name := range names {
		out = append(out, TypeDescription{Type: name, Properties: r.types[name].Schema.Describe()})
	}
	return out
}

// Register adds a block type to the Default registry.
func Register(typeName string, factory Factory, schema property.Schema) {
	Default.MustRegister(typeName, factory, schema)
}
