// Package fsm is a small thread-safe state machine used for block and
// service lifecycles.
package fsm

import (
	"fmt"
	"sync"
)

// State represents a state in the machine
type State string

// Event represents an event that triggers a transition
type Event string

// Transition moves the machine from From to To on Event.
type Transition struct {
	From  State
	Event Event
	To    State
}

// TransitionError reports an event the current state does not accept.
type TransitionError struct {
	From  State
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition from state '%s' with event '%s'", e.From, e.Event)
}

// Listener observes accepted transitions. Listeners run after the state
// has changed and outside the machine's lock.
type Listener func(from, to State, event Event)

// FSM is a thread-safe finite state machine
type FSM struct {
	mu          sync.RWMutex
	current     State
	transitions map[State]map[Event]State
	listeners   []Listener
}

// New creates a machine in initial accepting transitions.
func New(initial State, transitions ...Transition) *FSM {
	f := &FSM{
		current:     initial,
		transitions: make(map[State]map[Event]State),
	}
	for _, t := range transitions {
		f.AddTransition(t.From, t.Event, t.To)
	}
	return f
}

// AddTransition adds a valid transition
func (f *FSM) AddTransition(from State, event Event, to State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.transitions[from]; !ok {
		f.transitions[from] = make(map[Event]State)
	}
	f.transitions[from][event] = to
}

// OnTransition registers l for every later transition.
func (f *FSM) OnTransition(l Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, l)
}

// CurrentState returns the current state
func (f *FSM) CurrentState() State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current
}

// Is reports whether the machine is in one of states.
func (f *FSM) Is(states ...State) bool {
	current := f.CurrentState()
	for _, s := range states {
		if s == current {
			return true
		}
	}
	return false
}

// Trigger applies event, returning a *TransitionError when the current
// state does not accept it.
func (f *FSM) Trigger(event Event) error {
	f.mu.Lock()
	from := f.current
	to, ok := f.transitions[from][event]
	if !ok {
		f.mu.Unlock()
		return &TransitionError{From: from, Event: event}
	}
	f.current = to
	listeners := f.listeners
	f.mu.Unlock()

	for _, l := range listeners {
		l(from, to, event)
	}
	return nil
}

// CanTrigger checks if an event can be triggered from the current state
func (f *FSM) CanTrigger(event Event) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.transitions[f.current][event]
	return ok
}
