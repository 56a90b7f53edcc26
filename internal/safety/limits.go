package safety

import "strings"

// SteerLimits bounds a steering torque command.
type SteerLimits struct {
	MaxSteer              int
	MaxRateUp             int
	MaxRateDown           int
	DriverTorqueAllowance int
	DriverTorqueFactor    int
	MaxRTDelta            int
	RTInterval            uint32 // microseconds
}

// MaxLimitCheck reports a violation when val is outside [min, max].
func MaxLimitCheck(val, max, min int) bool {
	return val > max || val < min
}

// DriverLimitCheck reports a violation of the driver-aware rate limit.
//
// The command may grow by at most MaxRateUp per step. The ceiling on the
// command widens with the torque the driver is applying, so a driver
// countering the command forces it toward zero at MaxRateDown.
func DriverLimitCheck(val, valLast int, driver *RollingSample, lim SteerLimits) bool {
	highestAllowedRL := max(valLast, 0) + lim.MaxRateUp
	lowestAllowedRL := min(valLast, 0) - lim.MaxRateUp

	driverMaxLimit := lim.MaxSteer + (lim.DriverTorqueAllowance+driver.Max)*lim.DriverTorqueFactor
	driverMinLimit := -lim.MaxSteer + (-lim.DriverTorqueAllowance+driver.Min)*lim.DriverTorqueFactor

	// past the driver-limited ceiling the command must move toward zero
	highestAllowed := min(highestAllowedRL, max(valLast-lim.MaxRateDown, max(driverMaxLimit, 0)))
	lowestAllowed := max(lowestAllowedRL, min(valLast+lim.MaxRateDown, min(driverMinLimit, 0)))

	return val < lowestAllowed || val > highestAllowed
}

// RTRateLimitCheck reports a violation when val moved further than maxDelta
// away from the value latched at the start of the real-time window.
func RTRateLimitCheck(val, valLast, maxDelta int) bool {
	highest := max(valLast, 0) + maxDelta
	lowest := min(valLast, 0) - maxDelta
	return val < lowest || val > highest
}

// ViolationReason is a bitmask of the actuation checks a command failed.
type ViolationReason uint8

const (
	ViolationMaxTorque ViolationReason = 1 << iota
	ViolationRateLimit
	ViolationRTDelta
	ViolationNotAllowed
)

func (r ViolationReason) String() string {
	if r == 0 {
		return "none"
	}
	var parts []string
	if r&ViolationMaxTorque != 0 {
		parts = append(parts, "max_torque")
	}
	if r&ViolationRateLimit != 0 {
		parts = append(parts, "rate_limit")
	}
	if r&ViolationRTDelta != 0 {
		parts = append(parts, "rt_delta")
	}
	if r&ViolationNotAllowed != 0 {
		parts = append(parts, "controls_not_allowed")
	}
	return strings.Join(parts, "|")
}
