package safety

// AuthorizeSteer runs the actuation limiter for a steering torque command
// and returns whether it may be sent.
//
// While controls are allowed the command must respect the absolute limit,
// the driver-aware rate limit and the real-time delta. While they are not,
// only zero torque passes. A violation, or controls not allowed, resets the
// torque latches so the next command starts from zero. A violation also
// disengages.
func (e *Engine) AuthorizeSteer(desired int, lim SteerLimits) bool {
	s := &e.state
	var reason ViolationReason

	if s.ControlsAllowed {
		if MaxLimitCheck(desired, lim.MaxSteer, -lim.MaxSteer) {
			reason |= ViolationMaxTorque
		}
		if DriverLimitCheck(desired, s.DesiredTorqueLast, &s.DriverTorque, lim) {
			reason |= ViolationRateLimit
		}
		s.DesiredTorqueLast = desired

		if RTRateLimitCheck(desired, s.RTTorqueLast, lim.MaxRTDelta) {
			reason |= ViolationRTDelta
		}
		if Elapsed(e.now, s.RTTimestampLast) > lim.RTInterval {
			s.RTTorqueLast = desired
			s.RTTimestampLast = e.now
		}
	}

	if !s.ControlsAllowed && desired != 0 {
		reason |= ViolationNotAllowed
	}

	if reason != 0 || !s.ControlsAllowed {
		s.DesiredTorqueLast = 0
		s.RTTorqueLast = 0
		s.RTTimestampLast = e.now
	}

	if reason != 0 {
		e.emit(Event{Kind: EventViolation, Reason: reason.String(), Value: int64(desired)})
		e.logger.Warn("steer command violation", "torque", desired, "reason", reason.String())
		e.Disengage(ReasonViolation)
		return false
	}
	return true
}
