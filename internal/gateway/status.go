package gateway

import (
	"fmt"
	"time"

	"can-safety-gateway/internal/models"
	"can-safety-gateway/internal/safety"
)

// CheckStatus is the authentication state of one inbound message.
type CheckStatus struct {
	Addr             string `json:"addr"`
	Bus              int    `json:"bus"`
	Seen             bool   `json:"seen"`
	Valid            bool   `json:"valid"`
	Lagging          bool   `json:"lagging"`
	LastCounter      uint8  `json:"last_counter"`
	TimestepEstimate uint32 `json:"timestep_estimate_us"`
	ExpectedTimestep uint32 `json:"expected_timestep_us"`
}

// Status is the published view of the gateway for diagnostics.
type Status struct {
	UpdatedAt         time.Time     `json:"updated_at"`
	Session           string        `json:"session"`
	Mode              string        `json:"mode"`
	UnsafeMode        string        `json:"unsafe_mode"`
	ClockUS           uint32        `json:"clock_us"`
	ControlsAllowed   bool          `json:"controls_allowed"`
	RelayMalfunction  bool          `json:"relay_malfunction"`
	VehicleMoving     bool          `json:"vehicle_moving"`
	BrakePressed      bool          `json:"brake_pressed"`
	GasPressed        bool          `json:"gas_pressed"`
	DriverTorqueMin   int           `json:"driver_torque_min"`
	DriverTorqueMax   int           `json:"driver_torque_max"`
	DesiredTorqueLast int           `json:"desired_torque_last"`
	RTTorqueLast      int           `json:"rt_torque_last"`
	Checks            []CheckStatus `json:"checks"`
}

func newStatus(at time.Time, session string, unsafe safety.UnsafeMode, snap safety.Snapshot) *Status {
	s := snap.State
	st := &Status{
		UpdatedAt:         at,
		Session:           session,
		Mode:              snap.Mode,
		UnsafeMode:        unsafe.String(),
		ClockUS:           snap.Now,
		ControlsAllowed:   s.ControlsAllowed,
		RelayMalfunction:  s.RelayMalfunction,
		VehicleMoving:     s.VehicleMoving,
		BrakePressed:      s.BrakePressed,
		GasPressed:        s.GasPressed,
		DriverTorqueMin:   s.DriverTorque.Min,
		DriverTorqueMax:   s.DriverTorque.Max,
		DesiredTorqueLast: s.DesiredTorqueLast,
		RTTorqueLast:      s.RTTorqueLast,
		Checks:            make([]CheckStatus, 0, len(snap.Checks)),
	}
	for _, c := range snap.Checks {
		st.Checks = append(st.Checks, CheckStatus{
			Addr:             fmt.Sprintf("0x%X", c.Addr),
			Bus:              c.Bus,
			Seen:             c.Seen,
			Valid:            c.Valid,
			Lagging:          c.Lagging,
			LastCounter:      c.LastCounter,
			TimestepEstimate: c.TimestepEstimate,
			ExpectedTimestep: c.ExpectedTimestep,
		})
	}
	return st
}

// Sample converts the status into a telemetry sample.
func (s *Status) Sample() models.SignalSample {
	return models.SignalSample{
		Timestamp:         s.UpdatedAt,
		Mode:              s.Mode,
		ControlsAllowed:   s.ControlsAllowed,
		RelayMalfunction:  s.RelayMalfunction,
		VehicleMoving:     s.VehicleMoving,
		BrakePressed:      s.BrakePressed,
		GasPressed:        s.GasPressed,
		DriverTorqueMin:   s.DriverTorqueMin,
		DriverTorqueMax:   s.DriverTorqueMax,
		DesiredTorqueLast: s.DesiredTorqueLast,
		RTTorqueLast:      s.RTTorqueLast,
	}
}
