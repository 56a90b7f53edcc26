package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var testLimits = SteerLimits{
	MaxSteer:              2047,
	MaxRateUp:             50,
	MaxRateDown:           70,
	DriverTorqueAllowance: 60,
	DriverTorqueFactor:    10,
	MaxRTDelta:            940,
	RTInterval:            250_000,
}

func TestMaxLimitCheck(t *testing.T) {
	assert.False(t, MaxLimitCheck(2047, 2047, -2047))
	assert.False(t, MaxLimitCheck(-2047, 2047, -2047))
	assert.True(t, MaxLimitCheck(2048, 2047, -2047))
	assert.True(t, MaxLimitCheck(-2048, 2047, -2047))
}

func TestDriverLimitCheck_RateUp(t *testing.T) {
	var driver RollingSample

	assert.False(t, DriverLimitCheck(50, 0, &driver, testLimits))
	assert.False(t, DriverLimitCheck(-50, 0, &driver, testLimits))
	assert.True(t, DriverLimitCheck(51, 0, &driver, testLimits))
	assert.True(t, DriverLimitCheck(-51, 0, &driver, testLimits))
	assert.True(t, DriverLimitCheck(2047, 0, &driver, testLimits))
}

func TestDriverLimitCheck_RateDownIsFree(t *testing.T) {
	var driver RollingSample
	assert.False(t, DriverLimitCheck(0, 1000, &driver, testLimits), "releasing torque is always allowed")
	assert.False(t, DriverLimitCheck(-50, 1000, &driver, testLimits))
}

func TestDriverLimitCheck_DriverOverrideForcesRampDown(t *testing.T) {
	var driver RollingSample
	for i := 0; i < SampleSize; i++ {
		driver.Update(-300)
	}

	// driver ceiling is 2047 + (60-300)*10 = -353, so the command must
	// come down by at least MaxRateDown per step
	assert.True(t, DriverLimitCheck(1000, 1000, &driver, testLimits))
	assert.True(t, DriverLimitCheck(931, 1000, &driver, testLimits))
	assert.False(t, DriverLimitCheck(930, 1000, &driver, testLimits))
}

func TestDriverLimitCheck_DriverAssistingKeepsCeiling(t *testing.T) {
	var driver RollingSample
	for i := 0; i < SampleSize; i++ {
		driver.Update(300)
	}
	assert.False(t, DriverLimitCheck(1050, 1000, &driver, testLimits))
	assert.True(t, DriverLimitCheck(1051, 1000, &driver, testLimits))
}

func TestRTRateLimitCheck(t *testing.T) {
	assert.False(t, RTRateLimitCheck(940, 0, 940))
	assert.True(t, RTRateLimitCheck(941, 0, 940))
	assert.True(t, RTRateLimitCheck(-941, 0, 940))
	assert.False(t, RTRateLimitCheck(1440, 500, 940))
	assert.False(t, RTRateLimitCheck(-940, 500, 940), "lower bound is anchored at zero")
	assert.True(t, RTRateLimitCheck(-941, 500, 940))
}

func TestViolationReason_String(t *testing.T) {
	assert.Equal(t, "none", ViolationReason(0).String())
	assert.Equal(t, "max_torque|rt_delta", (ViolationMaxTorque | ViolationRTDelta).String())
}
