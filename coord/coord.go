// Package coord merges the pulse schedules of several independently ramped
// stepper units into one timeline, so that a multi-axis move starts together
// and every unit steps exactly when its own timer expires.
//
// A Coordinator is single-flight: one goroutine drives a session from
// StartMove to Ready, calling NextAction in a tight loop.  The wait inside
// NextAction is the scheduler; there is no other timer.
package coord

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"github.jpl.nasa.gov/bdube/multistep/stepper"
)

// Event describes one invocation of a unit's pulse-timing protocol
type Event struct {
	// Slot is the index of the unit
	Slot int

	// At is the clock value at the merge step that fired the unit
	At uint32

	// Next is the interval the unit returned, 0 meaning completion
	Next int64
}

// Observer is notified of session boundaries and every unit invocation.
// It is called from the goroutine driving the session and must not block.
type Observer interface {
	SessionStarted(at uint32, steps []int64)
	Fired(ev Event)
	SessionReady(at uint32)
}

// Coordinator drives up to len(units) motor units through a synchronized move
type Coordinator struct {
	// Log receives session level debug output
	Log zerolog.Logger

	// Observer, if not nil, is notified of every fired unit
	Observer Observer

	clock     Clock
	slots     []slot
	ready     bool
	scheduled bool
	deadline  uint32
	started   uint32
	merges    int64
	progress  rate.Sometimes
}

// New returns a Coordinator over units, in slot order.  nil units are absent
// slots that never move.  A nil clock selects a SystemClock.
func New(clk Clock, units ...stepper.Unit) *Coordinator {
	if clk == nil {
		clk = NewSystemClock()
	}
	c := &Coordinator{
		Log:      zerolog.Nop(),
		clock:    clk,
		slots:    make([]slot, len(units)),
		ready:    true,
		progress: rate.Sometimes{Interval: time.Second},
	}
	for i, u := range units {
		c.slots[i].unit = u
	}
	return c
}

// Len returns the number of slots
func (c *Coordinator) Len() int {
	return len(c.slots)
}

// Unit returns the unit in slot i, nil if the slot is absent
func (c *Coordinator) Unit(i int) stepper.Unit {
	return c.slots[i].unit
}

// Ready returns true once every active unit of the current session has
// completed, and before any session has started
func (c *Coordinator) Ready() bool {
	return c.ready
}

// Timers returns a snapshot of the event timers
func (c *Coordinator) Timers() []Timer {
	out := make([]Timer, len(c.slots))
	for i := range c.slots {
		out[i] = c.slots[i].timer()
	}
	return out
}

// StartMove begins a session.  steps holds a signed displacement per slot;
// 0, a missing entry or an absent unit leaves the slot inactive.
// Entries beyond Len() are ignored.
func (c *Coordinator) StartMove(steps []int64) {
	for i := range c.slots {
		s := &c.slots[i]
		var n int64
		if i < len(steps) {
			n = steps[i]
		}
		s.remaining = 0
		if n != 0 && s.unit != nil {
			s.unit.StartMove(n)
			s.state = Due
		} else {
			s.state = Inactive
		}
	}
	// a deadline left over from an earlier session is meaningless after an
	// idle gap longer than half the clock range
	c.scheduled = false
	c.ready = false
	c.merges = 0
	c.started = c.clock.Micros()
	c.Log.Debug().Ints64("steps", steps).Msg("move session started")
	if c.Observer != nil {
		c.Observer.SessionStarted(c.started, steps)
	}
}

// NextAction is the merge step.  It waits for the previously scheduled
// instant, fires every due unit, and schedules the next wake-up at the
// smallest pending countdown.  It returns that interval in microseconds,
// or 0 once the session is ready.
func (c *Coordinator) NextAction() int64 {
	if c.scheduled {
		c.clock.WaitUntil(c.deadline)
	}
	at := c.clock.Micros()
	wasReady := c.ready

	for i := range c.slots {
		s := &c.slots[i]
		if s.state != Due {
			continue
		}
		next := s.unit.NextAction()
		if next > 0 {
			s.state = Pending
			s.remaining = next
		} else {
			next = 0
		}
		if c.Observer != nil {
			c.Observer.Fired(Event{Slot: i, At: at, Next: next})
		}
	}

	// ties go to the lowest slot index
	var interval int64
	c.ready = true
	for i := range c.slots {
		s := &c.slots[i]
		if s.state != Pending {
			continue
		}
		c.ready = false
		if interval == 0 || s.remaining < interval {
			interval = s.remaining
		}
	}

	for i := range c.slots {
		s := &c.slots[i]
		if s.state != Pending {
			continue
		}
		s.remaining -= interval
		if s.remaining == 0 {
			s.state = Due
		}
	}

	c.deadline = c.clock.Micros() + uint32(interval)
	c.scheduled = true
	c.merges++

	if c.ready && !wasReady {
		now := c.clock.Micros()
		c.Log.Debug().
			Int64("merges", c.merges).
			Uint32("elapsed_us", Elapsed(c.started, now)).
			Msg("move session ready")
		if c.Observer != nil {
			c.Observer.SessionReady(now)
		}
	} else if !c.ready {
		c.progress.Do(func() {
			c.Log.Debug().Int64("merges", c.merges).Int64("interval_us", interval).Msg("move in progress")
		})
	}
	return interval
}

// StartBrake asks every unit that took part in the session to decelerate
// to a stop early.  The session still runs until the units report completion.
func (c *Coordinator) StartBrake() {
	for i := range c.slots {
		s := &c.slots[i]
		if s.state != Inactive {
			s.unit.StartBrake()
		}
	}
	c.Log.Debug().Msg("brake requested")
}

// IsRunning returns true if any configured unit reports it is not stopped,
// regardless of session bookkeeping
func (c *Coordinator) IsRunning() bool {
	for i := range c.slots {
		u := c.slots[i].unit
		if u != nil && u.State() != stepper.Stopped {
			return true
		}
	}
	return false
}

// Move runs one coordinated move to completion, blocking the caller
func (c *Coordinator) Move(steps []int64) {
	c.StartMove(steps)
	for !c.ready {
		c.NextAction()
	}
}

// MoveContext is Move with cooperative cancellation.  When ctx is done, the
// units are braked once and the loop keeps running until they have stopped;
// ctx.Err() is returned in that case.
func (c *Coordinator) MoveContext(ctx context.Context, steps []int64) error {
	c.StartMove(steps)
	done := ctx.Done()
	braked := false
	for !c.ready {
		if !braked {
			select {
			case <-done:
				c.StartBrake()
				braked = true
			default:
			}
		}
		c.NextAction()
	}
	if braked {
		return ctx.Err()
	}
	return nil
}

// StepsForRotation converts a per-slot angle in degrees into per-slot steps.
// Absent units and zero angles yield 0.
func (c *Coordinator) StepsForRotation(deg []float64) []int64 {
	steps := make([]int64, len(c.slots))
	for i := range c.slots {
		u := c.slots[i].unit
		if u == nil || i >= len(deg) || deg[i] == 0 {
			continue
		}
		steps[i] = u.CalcStepsForRotation(deg[i])
	}
	return steps
}

// Rotate moves each unit by an angle in degrees, blocking until done
func (c *Coordinator) Rotate(deg []float64) {
	c.Move(c.StepsForRotation(deg))
}

// StartRotate begins a session moving each unit by an angle in degrees
func (c *Coordinator) StartRotate(deg []float64) {
	c.StartMove(c.StepsForRotation(deg))
}

// SetMicrostep sets the microstep mode on every unit
func (c *Coordinator) SetMicrostep(mode int) error {
	return c.broadcast(func(u stepper.Unit) error { return u.SetMicrostep(mode) })
}

// Enable energizes every unit
func (c *Coordinator) Enable() error {
	return c.broadcast(stepper.Unit.Enable)
}

// Disable de-energizes every unit
func (c *Coordinator) Disable() error {
	return c.broadcast(stepper.Unit.Disable)
}

func (c *Coordinator) broadcast(fcn func(stepper.Unit) error) error {
	var err error
	for i := range c.slots {
		u := c.slots[i].unit
		if u == nil {
			continue
		}
		if e := fcn(u); e != nil {
			err = multierr.Append(err, fmt.Errorf("slot %d: %w", i, e))
		}
	}
	return err
}
