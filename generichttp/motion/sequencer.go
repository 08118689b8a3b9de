package motion

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.jpl.nasa.gov/bdube/multistep/coord"
	"github.jpl.nasa.gov/bdube/multistep/trace"
)

// ErrBusy is generated when a request needs the units idle while a move session is running
var ErrBusy = busyError{}

type busyError struct{}

func (busyError) Error() string { return "a move session is in progress" }

func (busyError) StatusCode() int { return http.StatusConflict }

// AxisInfo describes one slot of a Sequencer.  Steps and Pulses refer to the
// latest session: the displacement requested and the pulses emitted so far.
type AxisInfo struct {
	Name   string `json:"name"`
	Slot   int    `json:"slot"`
	State  string `json:"state"`
	Steps  int64  `json:"steps"`
	Pulses int    `json:"pulses"`
}

// Sequencer runs coordinated move sessions on a background goroutine, one at
// a time.  The Coordinator is only driven from that goroutine; a brake request
// is delivered by cancelling the session.
type Sequencer struct {
	Log zerolog.Logger

	// Names labels each slot, in slot order
	Names []string

	c   *coord.Coordinator
	rec *trace.Recorder

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewSequencer wraps c.  Every session is recorded; c.Observer is replaced.
func NewSequencer(c *coord.Coordinator, names []string) *Sequencer {
	rec := &trace.Recorder{}
	c.Observer = rec
	return &Sequencer{Log: zerolog.Nop(), Names: names, c: c, rec: rec}
}

// Coordinator returns the underlying Coordinator
func (s *Sequencer) Coordinator() *coord.Coordinator {
	return s.c
}

// Trace returns the recording of the latest session
func (s *Sequencer) Trace() *trace.Recorder {
	return s.rec
}

// active must be called with mu held
func (s *Sequencer) active() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Move starts a session moving each slot by steps.  It returns immediately;
// use Wait to block until the units have stopped.
func (s *Sequencer) Move(steps []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active() {
		return ErrBusy
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel, s.done, s.err = cancel, done, nil
	steps = append([]int64{}, steps...)
	go func() {
		defer close(done)
		defer cancel()
		start := time.Now()
		err := s.c.MoveContext(ctx, steps)
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		if err != nil {
			s.Log.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("move ended early")
			return
		}
		s.Log.Info().Ints64("steps", steps).Dur("elapsed", time.Since(start)).Msg("move complete")
	}()
	return nil
}

// Rotate starts a session moving each slot by an angle in degrees
func (s *Sequencer) Rotate(deg []float64) error {
	return s.Move(s.c.StepsForRotation(deg))
}

// Brake asks a running session to decelerate every unit to a stop.
// It is not an error to brake when nothing is moving.
func (s *Sequencer) Brake() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// Wait blocks until the current session, if any, has finished or ctx is done.
// It returns the error the session ended with.
func (s *Sequencer) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Running returns true while a session is active or any unit reports motion.
// Unit states are queried without holding the lock; remote units may be slow
// to answer and Brake must not wait on them.
func (s *Sequencer) Running() bool {
	s.mu.Lock()
	active := s.active()
	s.mu.Unlock()
	if active {
		return true
	}
	return s.c.IsRunning()
}

// Enable energizes every unit
func (s *Sequencer) Enable() error {
	return s.idle(s.c.Enable)
}

// Disable de-energizes every unit.  Units still moving answer stepper.ErrMoving.
func (s *Sequencer) Disable() error {
	return s.idle(s.c.Disable)
}

// SetMicrostep sets the microstep mode of every unit.
// An invalid mode is stepper.ErrBadMicrostep.
func (s *Sequencer) SetMicrostep(mode int) error {
	return s.idle(func() error { return s.c.SetMicrostep(mode) })
}

// idle runs fcn with no session active.  The lock is held throughout so a
// move cannot start halfway through a configuration change.
func (s *Sequencer) idle(fcn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active() {
		return ErrBusy
	}
	return withStatus(fcn())
}

// Axes describes every slot
func (s *Sequencer) Axes() []AxisInfo {
	pulses := s.rec.Pulses()
	steps := s.rec.Steps()
	out := make([]AxisInfo, s.c.Len())
	for i := range out {
		info := AxisInfo{Slot: i, State: "absent"}
		if i < len(s.Names) {
			info.Name = s.Names[i]
		}
		if i < len(steps) {
			info.Steps = steps[i]
		}
		if i < len(pulses) {
			info.Pulses = pulses[i]
		}
		if u := s.c.Unit(i); u != nil {
			info.State = u.State().String()
		}
		out[i] = info
	}
	return out
}

// Slot returns the slot index of a named axis, or -1
func (s *Sequencer) Slot(name string) int {
	for i, n := range s.Names {
		if n == name {
			return i
		}
	}
	return -1
}
