package safety

// Engage allows controls. A no-op if already engaged or a relay malfunction
// is flagged.
func (e *Engine) Engage(reason string) {
	if e.state.ControlsAllowed || e.state.RelayMalfunction {
		return
	}
	e.state.ControlsAllowed = true
	e.emit(Event{Kind: EventEngaged, Reason: reason})
	e.logger.Info("controls engaged", "reason", reason)
}

// Disengage forbids controls.
func (e *Engine) Disengage(reason string) {
	if !e.state.ControlsAllowed {
		return
	}
	e.state.ControlsAllowed = false
	e.emit(Event{Kind: EventDisengaged, Reason: reason})
	e.logger.Info("controls disengaged", "reason", reason)
}

// UpdateCruise applies a cruise-engaged sample: a rising edge engages, any
// false sample disengages.
func (e *Engine) UpdateCruise(engaged bool) {
	if engaged && !e.state.CruiseEngagedPrev {
		e.Engage(ReasonCruiseEngaged)
	}
	if !engaged {
		e.Disengage(ReasonCruiseOff)
	}
	e.state.CruiseEngagedPrev = engaged
}

// UpdateDriverTorque records a driver-applied torque observation.
func (e *Engine) UpdateDriverTorque(torque int) {
	e.state.DriverTorque.Update(torque)
}

// UpdateVehicleMoving records whether the vehicle is above standstill.
func (e *Engine) UpdateVehicleMoving(moving bool) {
	e.state.VehicleMoving = moving
}

// UpdateBrake records the brake pedal state.
func (e *Engine) UpdateBrake(pressed bool) {
	e.state.BrakePressed = pressed
}

// UpdateGas records the gas pedal state.
func (e *Engine) UpdateGas(pressed bool) {
	e.state.GasPressed = pressed
}

// GenericRxChecks applies the pedal disengagement rules and relay detection.
// Variants call it after updating signals from a trusted-bus frame.
//
// stockECUDetected must be true when the frame carries an id the gateway
// itself synthesizes, seen on the vehicle side of the relay.
func (e *Engine) GenericRxChecks(stockECUDetected bool) {
	s := &e.state

	if s.GasPressed && !s.GasPressedPrev && !e.unsafe.Has(UnsafeDisableDisengageOnGas) {
		e.Disengage(ReasonGas)
	}
	s.GasPressedPrev = s.GasPressed

	if s.BrakePressed && (!s.BrakePressedPrev || s.VehicleMoving) {
		e.Disengage(ReasonBrake)
	}
	s.BrakePressedPrev = s.BrakePressed

	if stockECUDetected && e.relayArmed {
		e.SetRelayMalfunction()
	}
}

// SetRelayMalfunction latches the relay fault and disengages. Only OnInit
// clears it.
func (e *Engine) SetRelayMalfunction() {
	if e.state.RelayMalfunction {
		return
	}
	e.Disengage(ReasonRelayMalfunction)
	e.state.RelayMalfunction = true
	e.emit(Event{Kind: EventRelayMalfunction})
	e.logger.Error("relay malfunction: stock ECU traffic on gateway-owned id")
}
