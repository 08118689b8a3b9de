package stepper

import "math"

// Mode selects the speed profile of a Ramp
type Mode int

const (
	// ConstantSpeed steps at the cruise rate from the first to the last pulse
	ConstantSpeed Mode = iota

	// LinearSpeed ramps the step rate up and down with constant acceleration
	LinearSpeed
)

const (
	defaultMotorSteps = 200
	defaultRPM        = 60
	defaultAccel      = 1000

	// c0Correction is the error correction factor on the first pulse of a
	// linear ramp, see D. Austin, "Generate stepper-motor speed profiles in real time"
	c0Correction = 0.676
)

// Ramp is the step timing model of a step/direction driver.
// All pulse intervals are in microseconds.  Accel and Decel are in full steps/s^2.
//
// The zero value is usable; defaults are 200 steps/rev, full stepping, 60 RPM,
// constant speed.
type Ramp struct {
	MotorSteps int64   `yaml:"MotorSteps"`
	Microsteps int64   `yaml:"Microsteps"`
	RPM        float64 `yaml:"RPM"`
	Mode       Mode    `yaml:"Mode"`
	Accel      int64   `yaml:"Accel"`
	Decel      int64   `yaml:"Decel"`

	dir            int64
	stepsRemaining int64
	stepCount      int64
	stepsToCruise  int64
	stepsToBrake   int64
	stepPulse      int64
	cruisePulse    int64
	rest           int64
}

func (r *Ramp) defaults() {
	if r.MotorSteps <= 0 {
		r.MotorSteps = defaultMotorSteps
	}
	if r.Microsteps <= 0 {
		r.Microsteps = 1
	}
	if r.RPM <= 0 {
		r.RPM = defaultRPM
	}
	if r.Accel <= 0 {
		r.Accel = defaultAccel
	}
	if r.Decel <= 0 {
		r.Decel = r.Accel
	}
}

// Start prepares the ramp for a move of steps (signed) microsteps
func (r *Ramp) Start(steps int64) {
	r.defaults()
	r.dir = 1
	if steps < 0 {
		r.dir = -1
		steps = -steps
	}
	r.stepsRemaining = steps
	r.stepCount = 0
	r.rest = 0

	switch r.Mode {
	case LinearSpeed:
		speed := r.RPM * float64(r.MotorSteps) / 60 // full steps/s
		r.stepsToCruise = int64(float64(r.Microsteps) * (speed * speed / (2 * float64(r.Accel))))
		r.stepsToBrake = r.stepsToCruise * r.Accel / r.Decel
		if r.stepsRemaining < r.stepsToCruise+r.stepsToBrake {
			// too short to reach cruise speed, brake early
			r.stepsToCruise = r.stepsRemaining * r.Decel / (r.Accel + r.Decel)
			r.stepsToBrake = r.stepsRemaining - r.stepsToCruise
		}
		r.stepPulse = int64(1e6 * c0Correction * math.Sqrt(2/float64(r.Accel)/float64(r.Microsteps)))
		r.cruisePulse = int64(1e6 / speed / float64(r.Microsteps))
	default:
		r.stepsToCruise = 0
		r.stepsToBrake = 0
		r.stepPulse = int64(60e6 / float64(r.MotorSteps) / float64(r.Microsteps) / r.RPM)
		r.cruisePulse = r.stepPulse
	}
}

// Next consumes one step and returns the interval until the following step is
// due, or 0 if no steps remain
func (r *Ramp) Next() int64 {
	if r.stepsRemaining <= 0 {
		return 0
	}
	pulse := r.stepPulse
	r.advance()
	if pulse < 1 {
		pulse = 1
	}
	return pulse
}

func (r *Ramp) advance() {
	r.stepsRemaining--
	r.stepCount++
	if r.Mode != LinearSpeed {
		return
	}
	switch r.State() {
	case Accelerating:
		if r.stepCount < r.stepsToCruise {
			d := 4*r.stepCount + 1
			r.stepPulse = r.stepPulse - (2*r.stepPulse+r.rest)/d
			r.rest = (2*r.stepPulse + r.rest) % d
		} else {
			// the series only approximates the target
			r.stepPulse = r.cruisePulse
			r.rest = 0
		}
	case Decelerating:
		d := -4*r.stepsRemaining + 1
		r.stepPulse = r.stepPulse - (2*r.stepPulse+r.rest)/d
		r.rest = (2*r.stepPulse + r.rest) % d
	}
}

// State returns the position of the ramp within its profile
func (r *Ramp) State() State {
	switch {
	case r.stepsRemaining <= 0:
		return Stopped
	case r.Mode != LinearSpeed:
		return Cruising
	case r.stepsRemaining <= r.stepsToBrake:
		return Decelerating
	case r.stepCount <= r.stepsToCruise:
		return Accelerating
	default:
		return Cruising
	}
}

// Brake shortens the move so that the ramp decelerates to a stop as soon as possible
func (r *Ramp) Brake() {
	switch r.State() {
	case Cruising:
		r.stepsRemaining = r.stepsToBrake
	case Accelerating:
		r.stepsRemaining = r.stepCount * r.Accel / r.Decel
	}
}

// Remaining returns the number of steps left in the move
func (r *Ramp) Remaining() int64 {
	return r.stepsRemaining
}

// Direction returns +1 or -1 for the direction of the current move
func (r *Ramp) Direction() int64 {
	if r.dir == 0 {
		return 1
	}
	return r.dir
}

// StepsForRotation converts degrees to microsteps, truncating toward zero
func (r *Ramp) StepsForRotation(deg float64) int64 {
	r.defaults()
	return int64(deg * float64(r.MotorSteps*r.Microsteps) / 360)
}
