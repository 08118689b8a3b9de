// Package stepper describes the contract of a single stepper motor unit as seen
// by a multi-axis coordinator, and provides a ramp model and a simulated unit
// that satisfy it.
package stepper

import "errors"

var (
	// ErrMoving is generated when a configuration change is requested while the unit is in motion
	ErrMoving = errors.New("unit is moving, command rejected")

	// ErrBadMicrostep is generated when a microstep mode is not a power of two
	// or exceeds the driver's maximum
	ErrBadMicrostep = errors.New("microstep mode must be a power of two within the driver range")
)

// State is the motion state reported by a unit
type State int

const (
	// Stopped means the unit has no pending steps
	Stopped State = iota

	// Accelerating means the unit is ramping up to cruise speed
	Accelerating

	// Cruising means the unit is at its target speed
	Cruising

	// Decelerating means the unit is ramping down to a stop
	Decelerating
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Accelerating:
		return "accelerating"
	case Cruising:
		return "cruising"
	case Decelerating:
		return "decelerating"
	default:
		return "unknown"
	}
}

// Pulser describes the pulse-timing protocol of a unit
type Pulser interface {
	// StartMove begins a bounded motion of the given signed step count.
	// The unit manages its own ramp internally.
	StartMove(steps int64)

	// NextAction performs one scheduled action (typically a pulse) and
	// returns the number of microseconds until the next one is due,
	// or 0 if the unit has no more pending actions for the current move
	NextAction() int64

	// StartBrake begins an early, controlled deceleration to a stop
	StartBrake()
}

// Stater can report whether it is executing motion
type Stater interface {
	// State returns the current motion state
	State() State
}

// Rotator converts angles into native steps
type Rotator interface {
	// CalcStepsForRotation converts an angle in degrees into a step count
	CalcStepsForRotation(deg float64) int64
}

// Configurer holds the hardware configuration toggles of a unit
type Configurer interface {
	// SetMicrostep sets the microstep mode, e.g. 1, 2, 4, ... 32
	SetMicrostep(mode int) error

	// Enable energizes the driver
	Enable() error

	// Disable de-energizes the driver
	Disable() error
}

// Unit is the full capability set a coordinator needs from a motor
type Unit interface {
	Pulser
	Stater
	Rotator
	Configurer
}

// ValidMicrostep returns true if mode is a power of two no larger than max
func ValidMicrostep(mode, max int) bool {
	if mode < 1 || mode > max {
		return false
	}
	return mode&(mode-1) == 0
}
