package stepper

import (
	"sync"
)

// DefaultMaxMicrostep is the finest microstep mode a SimUnit accepts unless told otherwise
const DefaultMaxMicrostep = 128

var _ Unit = (*SimUnit)(nil)

// SimUnit is a Unit with no hardware behind it.  Pulses only move a counter.
// It is concurrent safe, so its state may be queried while another goroutine
// drives it.
type SimUnit struct {
	sync.Mutex

	// Name identifies the unit in logs
	Name string

	// MaxMicrostep bounds SetMicrostep, DefaultMaxMicrostep if zero
	MaxMicrostep int

	ramp    Ramp
	pos     int64
	pulses  int64
	calls   int64
	enabled bool
}

// NewSimUnit returns a simulated unit with the given ramp
func NewSimUnit(name string, r Ramp) *SimUnit {
	r.defaults()
	return &SimUnit{Name: name, ramp: r}
}

// StartMove satisfies Pulser
func (u *SimUnit) StartMove(steps int64) {
	u.Lock()
	defer u.Unlock()
	u.ramp.Start(steps)
}

// NextAction satisfies Pulser; one pulse moves the position one microstep
func (u *SimUnit) NextAction() int64 {
	u.Lock()
	defer u.Unlock()
	u.calls++
	if u.ramp.Remaining() > 0 {
		u.pos += u.ramp.Direction()
		u.pulses++
	}
	return u.ramp.Next()
}

// StartBrake satisfies Pulser
func (u *SimUnit) StartBrake() {
	u.Lock()
	defer u.Unlock()
	u.ramp.Brake()
}

// State satisfies Stater
func (u *SimUnit) State() State {
	u.Lock()
	defer u.Unlock()
	return u.ramp.State()
}

// CalcStepsForRotation satisfies Rotator
func (u *SimUnit) CalcStepsForRotation(deg float64) int64 {
	u.Lock()
	defer u.Unlock()
	return u.ramp.StepsForRotation(deg)
}

// SetMicrostep satisfies Configurer
func (u *SimUnit) SetMicrostep(mode int) error {
	u.Lock()
	defer u.Unlock()
	max := u.MaxMicrostep
	if max == 0 {
		max = DefaultMaxMicrostep
	}
	if !ValidMicrostep(mode, max) {
		return ErrBadMicrostep
	}
	if u.ramp.State() != Stopped {
		return ErrMoving
	}
	u.ramp.Microsteps = int64(mode)
	return nil
}

// Enable satisfies Configurer
func (u *SimUnit) Enable() error {
	u.Lock()
	defer u.Unlock()
	u.enabled = true
	return nil
}

// Disable satisfies Configurer
func (u *SimUnit) Disable() error {
	u.Lock()
	defer u.Unlock()
	if u.ramp.State() != Stopped {
		return ErrMoving
	}
	u.enabled = false
	return nil
}

// Position returns the accumulated signed position in microsteps
func (u *SimUnit) Position() int64 {
	u.Lock()
	defer u.Unlock()
	return u.pos
}

// Pulses returns the number of pulses emitted since creation
func (u *SimUnit) Pulses() int64 {
	u.Lock()
	defer u.Unlock()
	return u.pulses
}

// Calls returns the number of NextAction invocations since creation
func (u *SimUnit) Calls() int64 {
	u.Lock()
	defer u.Unlock()
	return u.calls
}

// Enabled returns true if the driver is energized
func (u *SimUnit) Enabled() bool {
	u.Lock()
	defer u.Unlock()
	return u.enabled
}

// Microstep returns the current microstep mode
func (u *SimUnit) Microstep() int {
	u.Lock()
	defer u.Unlock()
	return int(u.ramp.Microsteps)
}
