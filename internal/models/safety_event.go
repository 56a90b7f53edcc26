package models

import "time"

// SafetyEvent is a diagnostic record emitted by the safety engine and stamped
// with wall time and boot session by the gateway.
type SafetyEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Session   string    `json:"session"`
	Mode      string    `json:"mode"`
	Kind      string    `json:"kind"`
	Reason    string    `json:"reason"`
	Bus       int       `json:"bus"`
	CANID     uint32    `json:"can_id"`
	Value     int64     `json:"value"`
	ClockUS   uint32    `json:"clock_us"`
}

// SignalSample is a point-in-time view of the tracked vehicle signals, used for telemetry
type SignalSample struct {
	Timestamp         time.Time `json:"timestamp"`
	Mode              string    `json:"mode"`
	ControlsAllowed   bool      `json:"controls_allowed"`
	RelayMalfunction  bool      `json:"relay_malfunction"`
	VehicleMoving     bool      `json:"vehicle_moving"`
	BrakePressed      bool      `json:"brake_pressed"`
	GasPressed        bool      `json:"gas_pressed"`
	DriverTorqueMin   int       `json:"driver_torque_min"`
	DriverTorqueMax   int       `json:"driver_torque_max"`
	DesiredTorqueLast int       `json:"desired_torque_last"`
	RTTorqueLast      int       `json:"rt_torque_last"`
}
