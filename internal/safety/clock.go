package safety

import (
	"sync/atomic"
	"time"
)

// Clock is a free-running microsecond counter that wraps at 2^32.
type Clock interface {
	NowMicros() uint32
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() uint32

// NowMicros implements Clock.
func (f ClockFunc) NowMicros() uint32 { return f() }

// Elapsed returns the microseconds from last to now, accounting for a single
// counter wraparound.
func Elapsed(now, last uint32) uint32 {
	return now - last
}

type monotonicClock struct {
	start time.Time
}

// NewMonotonicClock returns a Clock driven by the Go monotonic clock. The
// counter starts at zero and wraps roughly every 71 minutes.
func NewMonotonicClock() Clock {
	return &monotonicClock{start: time.Now()}
}

func (c *monotonicClock) NowMicros() uint32 {
	return uint32(time.Since(c.start).Microseconds())
}

// ManualClock is a Clock whose value is set explicitly. It is used by replay
// and tests. Safe for concurrent use.
type ManualClock struct {
	us atomic.Uint32
}

// NewManualClock creates a manual clock at the given counter value.
func NewManualClock(start uint32) *ManualClock {
	c := &ManualClock{}
	c.us.Store(start)
	return c
}

// NowMicros implements Clock.
func (c *ManualClock) NowMicros() uint32 { return c.us.Load() }

// Set moves the clock to an absolute counter value.
func (c *ManualClock) Set(us uint32) { c.us.Store(us) }

// Advance moves the clock forward, wrapping at 2^32.
func (c *ManualClock) Advance(d time.Duration) {
	c.us.Add(uint32(d.Microseconds()))
}
