package subaru

import (
	"can-safety-gateway/internal/models"
	"can-safety-gateway/internal/safety"
)

// Variant implements safety.Variant for one Subaru configuration.
type Variant struct {
	name   string
	hybrid bool
	checks []safety.RxCheck
}

// Standard returns the variant with cruise state on the main bus.
func Standard() *Variant {
	return &Variant{name: "subaru", checks: RxChecks}
}

// Hybrid returns the variant with cruise state on the camera bus.
func Hybrid() *Variant {
	return &Variant{name: "subaru-hybrid", hybrid: true, checks: HybridRxChecks}
}

func (v *Variant) Name() string               { return v.name }
func (v *Variant) Protocol() safety.Protocol  { return Protocol }
func (v *Variant) RxChecks() []safety.RxCheck { return v.checks }
func (v *Variant) TxMsgs() []safety.TxMsg     { return TxMsgs }

// Rx tracks driver torque, wheel speed, pedals and cruise state.
func (v *Variant) Rx(e *safety.Engine, f models.CANFrame) {
	if v.hybrid && f.Bus == BusCamera && f.ID == AddrCruiseHybrid {
		e.UpdateCruise(CruiseEngagedHybrid.Bool(f))
		return
	}
	if f.Bus != BusMain {
		return
	}

	switch f.ID {
	case AddrSteeringTorque:
		e.UpdateDriverTorque(DriverTorque.Int(f))
	case AddrCruiseControl:
		if !v.hybrid {
			e.UpdateCruise(CruiseEngaged.Bool(f))
		}
	case AddrWheelSpeeds:
		// average opposite corners
		speed := (WheelSpeedFR.Int(f) + WheelSpeedRL.Int(f)) / 2
		e.UpdateVehicleMoving(speed > StandstillThreshold)
	case AddrBrakePedal:
		e.UpdateBrake(BrakePedal.Bool(f))
	case AddrThrottle:
		e.UpdateGas(ThrottlePedal.Bool(f))
	}

	e.GenericRxChecks(f.ID == AddrESLKAS)
}

// Tx runs the steering limiter on ES_LKAS; other whitelisted frames pass.
func (v *Variant) Tx(e *safety.Engine, f models.CANFrame) bool {
	if f.ID == AddrESLKAS && f.Bus == BusMain {
		return e.AuthorizeSteer(SteerTorque.Int(f), Limits)
	}
	return true
}

// Fwd mirrors the main bus to the camera and the camera back to the main bus,
// except for the frames the gateway synthesizes itself.
func (v *Variant) Fwd(e *safety.Engine, bus int, f models.CANFrame) (int, bool) {
	switch bus {
	case BusMain:
		return BusCamera, true
	case BusCamera:
		switch f.ID {
		case AddrESLKAS, AddrESDistance, AddrESLKASState:
			return -1, false
		}
		return BusMain, true
	}
	return -1, false
}

var signalsByName = map[string]safety.Signal{
	"driver_torque":         DriverTorque,
	"cruise_engaged":        CruiseEngaged,
	"cruise_engaged_hybrid": CruiseEngagedHybrid,
	"wheel_speed_fr":        WheelSpeedFR,
	"wheel_speed_rl":        WheelSpeedRL,
	"brake_pedal":           BrakePedal,
	"throttle_pedal":        ThrottlePedal,
	"steer_torque":          SteerTorque,
}

// Signal looks up a signal descriptor by name.
func (v *Variant) Signal(name string) (safety.Signal, bool) {
	s, ok := signalsByName[name]
	return s, ok
}

// Seal writes counter and checksum into f.
func (v *Variant) Seal(f *models.CANFrame, counter uint8) {
	Seal(f, counter)
}
