package coord

import (
	"runtime"
	"sync"
	"time"
)

// DefaultSpinThreshold is the portion of a wait that SystemClock spends spinning
// instead of sleeping
const DefaultSpinThreshold = 200 * time.Microsecond

// Clock is a monotonic microsecond counter that wraps at 2^32, like the micros()
// counter of a microcontroller.  Instants are only compared by their difference,
// so the wrap is harmless for intervals shorter than ~35 minutes.
type Clock interface {
	// Micros returns the current counter value
	Micros() uint32

	// WaitUntil blocks until the counter has reached deadline
	WaitUntil(deadline uint32)
}

// Reached returns true if now is at or past deadline, accounting for wraparound
func Reached(now, deadline uint32) bool {
	return int32(now-deadline) >= 0
}

// Elapsed returns the number of microseconds from start to now, accounting for wraparound
func Elapsed(start, now uint32) uint32 {
	return now - start
}

// SystemClock is a Clock backed by the Go runtime monotonic clock.
// Waits longer than SpinThreshold sleep for all but the last SpinThreshold,
// then busy-wait to the deadline.
type SystemClock struct {
	SpinThreshold time.Duration

	once  sync.Once
	epoch time.Time
}

// NewSystemClock returns a SystemClock with the default spin threshold
func NewSystemClock() *SystemClock {
	return &SystemClock{SpinThreshold: DefaultSpinThreshold}
}

func (c *SystemClock) init() {
	c.once.Do(func() { c.epoch = time.Now() })
}

// Micros satisfies Clock
func (c *SystemClock) Micros() uint32 {
	c.init()
	return uint32(time.Since(c.epoch).Microseconds())
}

// WaitUntil satisfies Clock
func (c *SystemClock) WaitUntil(deadline uint32) {
	for {
		now := c.Micros()
		if Reached(now, deadline) {
			return
		}
		left := time.Duration(deadline-now) * time.Microsecond
		if left > c.SpinThreshold {
			time.Sleep(left - c.SpinThreshold)
			continue
		}
		runtime.Gosched()
	}
}

// VirtualClock is a Clock whose time only moves when it is waited on.
// Waiting jumps straight to the deadline, so a whole move can be simulated
// in a fraction of its physical duration.
type VirtualClock struct {
	now uint32
}

// NewVirtualClock returns a VirtualClock starting at the given counter value
func NewVirtualClock(start uint32) *VirtualClock {
	return &VirtualClock{now: start}
}

// Micros satisfies Clock
func (c *VirtualClock) Micros() uint32 {
	return c.now
}

// WaitUntil satisfies Clock
func (c *VirtualClock) WaitUntil(deadline uint32) {
	if !Reached(c.now, deadline) {
		c.now = deadline
	}
}

// Advance moves the clock forward by us microseconds
func (c *VirtualClock) Advance(us uint32) {
	c.now += us
}
