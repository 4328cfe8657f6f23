package core

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// DefaultTerminal names the unnamed input/output terminal of a block.
const DefaultTerminal = "__default_terminal_value"

// Signal is an opaque structured record passed between blocks.
//
// Attributes are free-form; blocks agree on their meaning out of band.
// A Signal is safe for concurrent reads and writes, but a batch handed to
// NotifySignals is shared with every downstream block, so blocks that mutate
// signals should Clone them first.
type Signal struct {
	mu    sync.RWMutex
	attrs map[string]interface{}
}

// NewSignal creates a signal holding a copy of attrs.
func NewSignal(attrs map[string]interface{}) *Signal {
	s := &Signal{attrs: make(map[string]interface{}, len(attrs))}
	for k, v := range attrs {
		s.attrs[k] = v
	}
	return s
}

// Get returns the attribute stored under key.
func (s *Signal) Get(key string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.attrs[key]
	return v, ok
}

// Set stores an attribute.
func (s *Signal) Set(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attrs == nil {
		s.attrs = make(map[string]interface{})
	}
	s.attrs[key] = value
}

// Attributes returns a copy of all attributes.
func (s *Signal) Attributes() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]interface{}, len(s.attrs))
	for k, v := range s.attrs {
		out[k] = v
	}
	return out
}

// Keys returns the attribute names in sorted order.
func (s *Signal) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.attrs))
	for k := range s.attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy of the signal.
func (s *Signal) Clone() *Signal {
	return NewSignal(s.Attributes())
}

func (s *Signal) String() string {
	return fmt.Sprintf("Signal%v", s.Attributes())
}

// MarshalJSON encodes the signal as a JSON object of its attributes.
func (s *Signal) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Attributes())
}

// UnmarshalJSON decodes a JSON object into the signal attributes.
func (s *Signal) UnmarshalJSON(data []byte) error {
	var attrs map[string]interface{}
	if err := json.Unmarshal(data, &attrs); err != nil {
		return err
	}
	if attrs == nil {
		return &EventBusError{Code: ErrInvalidSignals.Code, Message: "signal must be a JSON object"}
	}
	s.mu.Lock()
	s.attrs = attrs
	s.mu.Unlock()
	return nil
}

// ToSignals normalizes v into a batch of signals.
//
//   - a single *Signal becomes a one-element batch
//   - []*Signal and []interface{} holding only *Signal are copied in order
//   - maps are rejected, whatever their key and value types
//   - any element that is not a signal is rejected
//
// Rejections are reported as ErrInvalidSignals.
func ToSignals(v interface{}) ([]*Signal, error) {
	switch s := v.(type) {
	case nil:
		return nil, invalidSignals("signals cannot be nil")
	case *Signal:
		if s == nil {
			return nil, invalidSignals("signal cannot be nil")
		}
		return []*Signal{s}, nil
	case []*Signal:
		out := make([]*Signal, len(s))
		for i, sig := range s {
			if sig == nil {
				return nil, invalidSignals(fmt.Sprintf("signal at index %d is nil", i))
			}
			out[i] = sig
		}
		return out, nil
	case []interface{}:
		out := make([]*Signal, len(s))
		for i, item := range s {
			sig, ok := item.(*Signal)
			if !ok || sig == nil {
				return nil, invalidSignals(fmt.Sprintf("element %d is %T, not a signal", i, item))
			}
			out[i] = sig
		}
		return out, nil
	}

	if reflect.ValueOf(v).Kind() == reflect.Map {
		return nil, invalidSignals(fmt.Sprintf("a mapping (%T) is not a valid signals argument", v))
	}
	return nil, invalidSignals(fmt.Sprintf("%T is not a signal", v))
}

func invalidSignals(message string) error {
	return &EventBusError{Code: ErrInvalidSignals.Code, Message: message}
}
