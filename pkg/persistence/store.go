// Package persistence stores per-block state for the host. Values are
// JSON-encoded so every backend accepts the same Go types.
package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/fluxorio/blockflow/pkg/core"
)

// ErrClosed is returned by a store after Close.
var ErrClosed = errors.New("persistence store is closed")

// Store keeps values keyed by block name and key.
type Store interface {
	// Load decodes the value saved under (block, key) into v. It reports
	// false when nothing is saved there.
	Load(ctx context.Context, block, key string, v interface{}) (bool, error)
	// Save encodes v and stores it under (block, key), replacing any value.
	Save(ctx context.Context, block, key string, v interface{}) error
	// Delete removes (block, key). Deleting a missing key is not an error.
	Delete(ctx context.Context, block, key string) error
	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases the backend.
	Close() error
}

// Scoped is the view of a Store a single block sees.
type Scoped struct {
	store Store
	block string
}

// Scope returns the view of store for block.
func Scope(store Store, block string) *Scoped {
	return &Scoped{store: store, block: block}
}

func (s *Scoped) Load(ctx context.Context, key string, v interface{}) (bool, error) {
	return s.store.Load(ctx, s.block, key, v)
}

func (s *Scoped) Save(ctx context.Context, key string, v interface{}) error {
	return s.store.Save(ctx, s.block, key, v)
}

func (s *Scoped) Delete(ctx context.Context, key string) error {
	return s.store.Delete(ctx, s.block, key)
}

// Config selects and configures a backend.
type Config struct {
	// Driver is one of memory, sqlite, postgres or pq.
	Driver string `json:"driver" yaml:"driver"`
	// DSN is the backend connection string.
	DSN string `json:"dsn" yaml:"dsn"`
}

// Open builds the store named by cfg.Driver. An empty driver means memory.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return NewSQLite(ctx, cfg.DSN)
	case "postgres", "pgx":
		return NewPostgres(ctx, cfg.DSN)
	case "pq":
		return NewSQL(ctx, DialectPostgres, cfg.DSN)
	}
	return nil, fmt.Errorf("unknown persistence driver %q", cfg.Driver)
}

func validateKey(block, key string) error {
	if err := core.ValidateBlockName(block); err != nil {
		return err
	}
	if key == "" {
		return &core.EventBusError{Code: "INVALID_KEY", Message: "persistence key cannot be empty"}
	}
	return nil
}

func encode(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, &core.EventBusError{Code: "INVALID_VALUE", Message: "cannot save a nil value"}
	}
	data, err := core.JSONEncode(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return data, nil
}
