package block

import (
	"github.com/fluxorio/blockflow/pkg/core/fsm"
)

// Lifecycle states, driven by the host.
const (
	StateCreated    fsm.State = "created"
	StateConfigured fsm.State = "configured"
	StateStarted    fsm.State = "started"
	StateStopped    fsm.State = "stopped"
)

// Lifecycle events.
const (
	EventConfigure fsm.Event = "configure"
	EventStart     fsm.Event = "start"
	EventStop      fsm.Event = "stop"
)

// NewLifecycle returns the state machine a host keeps for each block.
// A block may be stopped from any state but stopped itself.
func NewLifecycle() *fsm.FSM {
	return fsm.New(StateCreated,
		fsm.Transition{From: StateCreated, Event: EventConfigure, To: StateConfigured},
		fsm.Transition{From: StateConfigured, Event: EventStart, To: StateStarted},
		fsm.Transition{From: StateCreated, Event: EventStop, To: StateStopped},
		fsm.Transition{From: StateConfigured, Event: EventStop, To: StateStopped},
		fsm.Transition{From: StateStarted, Event: EventStop, To: StateStopped},
	)
}
