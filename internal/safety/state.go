package safety

// State is the vehicle signal state owned by one Engine.
type State struct {
	DriverTorque      RollingSample
	VehicleMoving     bool
	BrakePressed      bool
	BrakePressedPrev  bool
	GasPressed        bool
	GasPressedPrev    bool
	CruiseEngagedPrev bool

	// ControlsAllowed is the master gate for actuation.
	ControlsAllowed bool
	// RelayMalfunction is sticky until the engine is reinitialized.
	RelayMalfunction bool

	DesiredTorqueLast int
	RTTorqueLast      int
	RTTimestampLast   uint32
}

// Reset returns every signal to its power-on default.
func (s *State) Reset() {
	*s = State{}
}
