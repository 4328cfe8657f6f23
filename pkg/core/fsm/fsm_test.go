package fsm_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/fluxorio/blockflow/pkg/core/fsm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	StateIdle    fsm.State = "IDLE"
	StateRunning fsm.State = "RUNNING"
	StateStopped fsm.State = "STOPPED"

	EventStart fsm.Event = "START"
	EventStop  fsm.Event = "STOP"
)

func newMachine() *fsm.FSM {
	return fsm.New(StateIdle,
		fsm.Transition{From: StateIdle, Event: EventStart, To: StateRunning},
		fsm.Transition{From: StateRunning, Event: EventStop, To: StateStopped},
	)
}

func TestFSM(t *testing.T) {
	machine := newMachine()

	assert.Equal(t, StateIdle, machine.CurrentState())
	assert.True(t, machine.CanTrigger(EventStart))
	assert.False(t, machine.CanTrigger(EventStop))

	require.NoError(t, machine.Trigger(EventStart))
	assert.True(t, machine.Is(StateRunning, StateStopped))

	require.NoError(t, machine.Trigger(EventStop))
	assert.Equal(t, StateStopped, machine.CurrentState())

	err := machine.Trigger(EventStart)
	var terr *fsm.TransitionError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, StateStopped, terr.From)
	assert.Equal(t, EventStart, terr.Event)
}

func TestFSM_Listener(t *testing.T) {
	machine := newMachine()

	var seen []fsm.Transition
	machine.OnTransition(func(from, to fsm.State, event fsm.Event) {
		// listeners may read the machine
		assert.Equal(t, to, machine.CurrentState())
		seen = append(seen, fsm.Transition{From: from, Event: event, To: to})
	})

	require.NoError(t, machine.Trigger(EventStart))
	require.Error(t, machine.Trigger(EventStart))
	require.NoError(t, machine.Trigger(EventStop))

	assert.Equal(t, []fsm.Transition{
		{From: StateIdle, Event: EventStart, To: StateRunning},
		{From: StateRunning, Event: EventStop, To: StateStopped},
	}, seen)
}

func TestFSM_Concurrent(t *testing.T) {
	machine := newMachine()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if machine.Trigger(EventStart) == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success, "only one goroutine may start the machine")
	assert.Equal(t, StateRunning, machine.CurrentState())
}
