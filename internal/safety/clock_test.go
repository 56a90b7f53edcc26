package safety

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestElapsed_Wraparound(t *testing.T) {
	assert.Equal(t, uint32(10), Elapsed(5, math.MaxUint32-4))
	assert.Equal(t, uint32(250_000), Elapsed(250_000, 0))
}

func TestManualClock_AdvanceWraps(t *testing.T) {
	c := NewManualClock(math.MaxUint32 - 999)
	c.Advance(2 * time.Millisecond)
	assert.Equal(t, uint32(1000), c.NowMicros())

	c.Set(42)
	assert.Equal(t, uint32(42), c.NowMicros())
}

func TestClockFunc(t *testing.T) {
	var c Clock = ClockFunc(func() uint32 { return 7 })
	assert.Equal(t, uint32(7), c.NowMicros())
}
