package coord

import (
	"fmt"

	"github.jpl.nasa.gov/bdube/multistep/stepper"
)

// SlotState is the scheduling state of one slot within a move session
type SlotState int

const (
	// Inactive slots have no motion this session and are never invoked
	Inactive SlotState = iota

	// Due slots are invoked on the next merge step.  A unit that reported
	// completion stays Due until it is re-armed or the session ends.
	Due

	// Pending slots have a countdown to their next action
	Pending
)

func (s SlotState) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Due:
		return "due"
	case Pending:
		return "pending"
	default:
		return "unknown"
	}
}

// Timer is a snapshot of a slot's event timer
type Timer struct {
	State SlotState

	// Remaining is the countdown in microseconds, only meaningful when State is Pending
	Remaining int64
}

func (t Timer) String() string {
	if t.State == Pending {
		return fmt.Sprintf("pending(%dus)", t.Remaining)
	}
	return t.State.String()
}

type slot struct {
	unit      stepper.Unit
	state     SlotState
	remaining int64
}

func (s *slot) timer() Timer {
	return Timer{State: s.state, Remaining: s.remaining}
}
