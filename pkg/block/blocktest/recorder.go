// Package blocktest provides helpers for testing blocks outside a host.
package blocktest

import (
	"sync"

	"github.com/fluxorio/blockflow/pkg/block"
	"github.com/fluxorio/blockflow/pkg/core"
	"github.com/fluxorio/blockflow/pkg/property"
)

// Notification is one recorded Notify call.
type Notification struct {
	From    string
	Output  string
	Signals []*core.Signal
}

// Recorder is a block.Notifier that records every call.
type Recorder struct {
	mu    sync.Mutex
	calls []Notification
	err   error
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// FailWith makes subsequent Notify calls return err.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *Recorder) Notify(from, outputID string, signals []*core.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.calls = append(r.calls, Notification{From: from, Output: outputID, Signals: signals})
	return nil
}

// Calls returns the recorded notifications in order.
func (r *Recorder) Calls() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.calls...)
}

// Context builds a valid block.Context named name that notifies r.
func (r *Recorder) Context(name string, schema property.Schema, props map[string]interface{}) *block.Context {
	return &block.Context{
		Name:       name,
		Type:       "test",
		Properties: props,
		Schema:     schema,
		Notifier:   r,
		Logger:     core.NewNopLogger(),
	}
}

// Signals builds n signals carrying an "index" attribute.
func Signals(n int) []*core.Signal {
	out := make([]*core.Signal, n)
	for i := range out {
		out[i] = core.NewSignal(map[string]interface{}{"index": i})
	}
	return out
}
