// Package trace records the pulse timeline of a coordinated move and writes it
// out for offline inspection.
package trace

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/astrogo/fitsio"

	"github.jpl.nasa.gov/bdube/multistep/coord"
	"github.jpl.nasa.gov/bdube/multistep/util"
)

// ErrEmpty is generated when writing a trace with no events
var ErrEmpty = errors.New("trace has no events")

// Row is one recorded unit invocation, relative to the session start
type Row struct {
	Slot int
	T    uint32 // us since SessionStarted
	Next int64  // interval the unit returned, 0 for completion
}

// Recorder is a coord.Observer that keeps the events of the most recent session.
// It is concurrent safe, so a trace may be read while a session runs.
type Recorder struct {
	// Max bounds the number of rows kept, unlimited if zero
	Max int

	mu      sync.Mutex
	start   uint32
	end     uint32
	done    bool
	steps   []int64
	rows    []Row
	dropped int
}

// SessionStarted satisfies coord.Observer
func (r *Recorder) SessionStarted(at uint32, steps []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.start = at
	r.end = at
	r.done = false
	r.steps = append([]int64{}, steps...)
	r.rows = r.rows[:0]
	r.dropped = 0
}

// Fired satisfies coord.Observer
func (r *Recorder) Fired(ev coord.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Max > 0 && len(r.rows) >= r.Max {
		r.dropped++
		return
	}
	r.rows = append(r.rows, Row{Slot: ev.Slot, T: coord.Elapsed(r.start, ev.At), Next: ev.Next})
}

// SessionReady satisfies coord.Observer
func (r *Recorder) SessionReady(at uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.end = at
	r.done = true
}

// Rows returns a copy of the recorded rows
func (r *Recorder) Rows() []Row {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Row{}, r.rows...)
}

// Duration returns the session length in us, or the time of the last event
// if the session has not finished
func (r *Recorder) Duration() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.duration()
}

func (r *Recorder) duration() uint32 {
	if r.done {
		return coord.Elapsed(r.start, r.end)
	}
	if len(r.rows) == 0 {
		return 0
	}
	return r.rows[len(r.rows)-1].T
}

// Done returns true once the recorded session became ready
func (r *Recorder) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Dropped returns the number of events discarded because Max was reached
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Steps returns the displacements the session was started with
func (r *Recorder) Steps() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64{}, r.steps...)
}

// Pulses returns the number of nonzero intervals reported per slot
func (r *Recorder) Pulses() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.steps))
	for _, row := range r.rows {
		if row.Next == 0 {
			continue
		}
		for row.Slot >= len(out) {
			out = append(out, 0)
		}
		out[row.Slot]++
	}
	return out
}

// WriteCSV writes the trace as slot,t_us,next_us rows
func (r *Recorder) WriteCSV(w io.Writer) error {
	rows := r.Rows()
	if _, err := io.WriteString(w, "slot,t_us,next_us\n"); err != nil {
		return err
	}
	for _, row := range rows {
		line := util.Int64SliceToCSV([]int64{int64(row.Slot), int64(row.T), row.Next})
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// WriteFits streams the trace to w as a 2D int32 image with one
// (slot, t_us, next_us) row per event
func (r *Recorder) WriteFits(w io.Writer) error {
	r.mu.Lock()
	rows := append([]Row{}, r.rows...)
	nslots := len(r.steps)
	dur := r.duration()
	r.mu.Unlock()
	if len(rows) == 0 {
		return ErrEmpty
	}

	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	dims := []int{3, len(rows)}
	im := fitsio.NewImage(32, dims)
	defer im.Close()
	err = im.Header().Append(
		fitsio.Card{Name: "NSLOTS", Value: nslots, Comment: "number of coordinated units"},
		fitsio.Card{Name: "NEVENTS", Value: len(rows), Comment: "number of unit invocations"},
		fitsio.Card{Name: "DURATION", Value: int(dur), Comment: "session length, us"},
	)
	if err != nil {
		return err
	}

	ints := make([]int32, 0, 3*len(rows))
	for _, row := range rows {
		ints = append(ints, int32(row.Slot), int32(row.T), saturate(row.Next))
	}
	err = im.Write(ints)
	if err != nil {
		return fmt.Errorf("writing trace image: %w", err)
	}
	return fits.Write(im)
}

func saturate(v int64) int32 {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(v)
}
