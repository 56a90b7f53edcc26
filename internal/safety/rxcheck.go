package safety

import (
	"strings"

	"can-safety-gateway/internal/models"
)

// MaxMissedFrames is how many expected intervals may pass without a valid
// frame before a checked message is considered stale.
const MaxMissedFrames = 10

// RxCheck is the authentication rule for one inbound message.
type RxCheck struct {
	Addr          uint32
	Bus           int
	Len           uint8
	CheckChecksum bool
	// MaxCounter is the rolling counter modulus minus one. Zero disables the
	// counter check.
	MaxCounter uint8
	// ExpectedTimestep is the nominal interval between frames in microseconds.
	// Zero disables the timing check.
	ExpectedTimestep uint32
}

// RxCheckState is the mutable authentication state of one RxCheck.
type RxCheckState struct {
	Seen          bool
	Valid         bool
	Lagging       bool
	LastCounter   uint8
	LastTimestamp uint32
	// LastValidTimestamp is the arrival time of the last valid frame, or of
	// the first frame when none was valid yet.
	LastValidTimestamp uint32
	TimestepEstimate   uint32
}

// Protocol carries the vehicle-specific checksum and counter layout.
type Protocol struct {
	GetChecksum     func(models.CANFrame) uint8
	ComputeChecksum func(models.CANFrame) uint8
	GetCounter      func(models.CANFrame) uint8
}

// AuthFailure is a bitmask of the checks a frame failed.
type AuthFailure uint8

const (
	AuthLength AuthFailure = 1 << iota
	AuthChecksum
	AuthCounter
	AuthTiming
)

func (f AuthFailure) String() string {
	if f == 0 {
		return "ok"
	}
	var parts []string
	if f&AuthLength != 0 {
		parts = append(parts, "length")
	}
	if f&AuthChecksum != 0 {
		parts = append(parts, "checksum")
	}
	if f&AuthCounter != 0 {
		parts = append(parts, "counter")
	}
	if f&AuthTiming != 0 {
		parts = append(parts, "timing")
	}
	return strings.Join(parts, "|")
}
