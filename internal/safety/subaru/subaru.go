// Package subaru is the safety rule set for the Subaru global platform.
//
// Two variants share everything except where the cruise state comes from:
// Standard reads it from the main bus, Hybrid from the camera bus.
package subaru

import (
	"can-safety-gateway/internal/models"
	"can-safety-gateway/internal/safety"
)

const (
	BusMain   = 0
	BusCamera = 2
)

// Message ids.
const (
	AddrThrottle       = 0x40
	AddrSteeringTorque = 0x119
	AddrBrakePedal     = 0x139
	AddrWheelSpeeds    = 0x13a
	AddrCruiseControl  = 0x240
	AddrCruiseHybrid   = 0x321
	AddrESLKAS         = 0x122
	AddrESDistance     = 0x221
	AddrESLKASState    = 0x322
)

// StandstillThreshold is the averaged wheel speed above which the vehicle is
// moving, about 1 km/h.
const StandstillThreshold = 20

// Limits for the ES_LKAS steering torque.
var Limits = safety.SteerLimits{
	MaxSteer:              2047,
	MaxRateUp:             50,
	MaxRateDown:           70,
	DriverTorqueAllowance: 60,
	DriverTorqueFactor:    10,
	MaxRTDelta:            940,
	RTInterval:            250_000,
}

// Signals.
var (
	DriverTorque        = safety.Signal{Start: 16, Length: 11, Signed: true, Negate: true}
	CruiseEngaged       = safety.Signal{Start: 41, Length: 1}
	CruiseEngagedHybrid = safety.Signal{Start: 36, Length: 1}
	WheelSpeedFR        = safety.Signal{Start: 12, Length: 13}
	WheelSpeedRL        = safety.Signal{Start: 38, Length: 13}
	BrakePedal          = safety.Signal{Start: 36, Length: 12}
	ThrottlePedal       = safety.Signal{Start: 32, Length: 8}
	SteerTorque         = safety.Signal{Start: 16, Length: 13, Signed: true, Negate: true}
	Counter             = safety.Signal{Start: 8, Length: 4}
)

// RxChecks authenticates the standard variant's inbound messages.
var RxChecks = []safety.RxCheck{
	{Addr: AddrThrottle, Bus: BusMain, Len: 8, CheckChecksum: true, MaxCounter: 15, ExpectedTimestep: 10_000},
	{Addr: AddrSteeringTorque, Bus: BusMain, Len: 8, CheckChecksum: true, MaxCounter: 15, ExpectedTimestep: 20_000},
	{Addr: AddrBrakePedal, Bus: BusMain, Len: 8, CheckChecksum: true, MaxCounter: 15, ExpectedTimestep: 20_000},
	{Addr: AddrWheelSpeeds, Bus: BusMain, Len: 8, CheckChecksum: true, MaxCounter: 15, ExpectedTimestep: 20_000},
	{Addr: AddrCruiseControl, Bus: BusMain, Len: 8, CheckChecksum: true, MaxCounter: 15, ExpectedTimestep: 50_000},
}

// HybridRxChecks authenticates the hybrid variant, whose cruise state comes
// from the camera bus.
var HybridRxChecks = []safety.RxCheck{
	{Addr: AddrThrottle, Bus: BusMain, Len: 8, CheckChecksum: true, MaxCounter: 15, ExpectedTimestep: 10_000},
	{Addr: AddrSteeringTorque, Bus: BusMain, Len: 8, CheckChecksum: true, MaxCounter: 15, ExpectedTimestep: 20_000},
	{Addr: AddrBrakePedal, Bus: BusMain, Len: 8, CheckChecksum: true, MaxCounter: 15, ExpectedTimestep: 20_000},
	{Addr: AddrWheelSpeeds, Bus: BusMain, Len: 8, CheckChecksum: true, MaxCounter: 15, ExpectedTimestep: 20_000},
	{Addr: AddrCruiseHybrid, Bus: BusCamera, Len: 8, CheckChecksum: true, MaxCounter: 15, ExpectedTimestep: 100_000},
}

// TxMsgs lists the frames the gateway synthesizes.
var TxMsgs = []safety.TxMsg{
	{Addr: AddrESLKAS, Bus: BusMain, Len: 8},
	{Addr: AddrESDistance, Bus: BusMain, Len: 8},
	{Addr: AddrESLKASState, Bus: BusMain, Len: 8},
}

// Protocol is the Subaru checksum and counter layout.
var Protocol = safety.Protocol{
	GetChecksum:     GetChecksum,
	ComputeChecksum: ComputeChecksum,
	GetCounter:      GetCounter,
}

// GetChecksum returns the transmitted checksum, byte 0.
func GetChecksum(f models.CANFrame) uint8 {
	return f.Data[0]
}

// GetCounter returns the rolling counter, low nibble of byte 1.
func GetCounter(f models.CANFrame) uint8 {
	return uint8(Counter.Raw(f))
}

// ComputeChecksum sums the id's low and high bytes and every payload byte
// after the checksum, truncated to one byte.
func ComputeChecksum(f models.CANFrame) uint8 {
	sum := uint8(f.ID) + uint8(f.ID>>8)
	p := f.Payload()
	if len(p) == 0 {
		return sum
	}
	for _, b := range p[1:] {
		sum += b
	}
	return sum
}

// Seal writes counter and checksum into f. Used to synthesize frames in
// tests and replay scenarios.
func Seal(f *models.CANFrame, counter uint8) {
	Counter.Put(f, int64(counter&0xF))
	f.Data[0] = ComputeChecksum(*f)
}
