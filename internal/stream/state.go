package stream

import (
	"errors"
	"fmt"
)

// ErrIllegalTransition is returned when a trigger does not apply to a state.
var ErrIllegalTransition = errors.New("illegal connection state transition")

// State is the lifecycle of a run's connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateCompleted
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateCompleted:
		return "completed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether a run in this state has finished.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateClosed
}

// Trigger is an input to the state machine.
type Trigger int

const (
	// TriggerDial is the observer asking for a new connection.
	TriggerDial Trigger = iota
	// TriggerReady means the connection handshake finished.
	TriggerReady
	// TriggerComplete is the producer's completion marker.
	TriggerComplete
	// TriggerClose is any connection loss, including failed dials.
	TriggerClose
	// TriggerReset returns a finished session to StateIdle.
	TriggerReset
)

func (t Trigger) String() string {
	switch t {
	case TriggerDial:
		return "dial"
	case TriggerReady:
		return "ready"
	case TriggerComplete:
		return "complete"
	case TriggerClose:
		return "close"
	case TriggerReset:
		return "reset"
	default:
		return fmt.Sprintf("trigger(%d)", int(t))
	}
}

var transitions = map[State]map[Trigger]State{
	StateIdle:       {TriggerDial: StateConnecting},
	StateConnecting: {TriggerReady: StateOpen, TriggerClose: StateClosed},
	StateOpen:       {TriggerComplete: StateCompleted, TriggerClose: StateClosed},
	StateCompleted:  {TriggerReset: StateIdle},
	StateClosed:     {TriggerReset: StateIdle},
}

// Transition returns the state reached from "from" on t.
func Transition(from State, t Trigger) (State, error) {
	if next, ok := transitions[from][t]; ok {
		return next, nil
	}
	return from, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, from, t)
}
