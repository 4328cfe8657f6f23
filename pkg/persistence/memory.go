package persistence

import (
	"context"
	"sync"

	"github.com/fluxorio/blockflow/pkg/core"
)

// Memory is an in-process Store. It is the default when no backend is
// configured and loses everything on restart.
type Memory struct {
	mu     sync.RWMutex
	data   map[string]map[string][]byte
	closed bool
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string][]byte)}
}

func (m *Memory) Load(ctx context.Context, block, key string, v interface{}) (bool, error) {
	if err := validateKey(block, key); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, ErrClosed
	}
	data, ok := m.data[block][key]
	if !ok {
		return false, nil
	}
	return true, core.JSONDecode(data, v)
}

func (m *Memory) Save(ctx context.Context, block, key string, v interface{}) error {
	if err := validateKey(block, key); err != nil {
		return err
	}
	data, err := encode(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.data[block] == nil {
		m.data[block] = make(map[string][]byte)
	}
	m.data[block][key] = data
	return nil
}

func (m *Memory) Delete(ctx context.Context, block, key string) error {
	if err := validateKey(block, key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.data[block], key)
	return nil
}

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.data = nil
	return nil
}
