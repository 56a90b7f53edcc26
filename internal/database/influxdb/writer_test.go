package influxdb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"can-safety-gateway/internal/models"
)

func TestSampleValues(t *testing.T) {
	tags, fields := sampleValues(models.SignalSample{
		Timestamp:         time.Now(),
		Mode:              "subaru",
		ControlsAllowed:   true,
		VehicleMoving:     true,
		DriverTorqueMin:   -40,
		DriverTorqueMax:   25,
		DesiredTorqueLast: 300,
		RTTorqueLast:      250,
	})

	assert.Equal(t, map[string]string{"mode": "subaru"}, tags)
	assert.Equal(t, true, fields["controls_allowed"])
	assert.Equal(t, false, fields["relay_malfunction"])
	assert.Equal(t, int64(-40), fields["driver_torque_min"])
	assert.Equal(t, int64(300), fields["desired_torque_last"])
	assert.Len(t, fields, 9)
}

func TestSamplesQuery(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q, params := samplesQuery(models.QueryParams{StartTime: &start, Kind: "subaru", Limit: 50})

	assert.Equal(t, "SELECT "+sampleColumns+" FROM safety_signals WHERE 1=1 AND time >= $start AND mode = $mode ORDER BY time DESC LIMIT 50", q)
	assert.Equal(t, "2026-03-01T12:00:00Z", params["start"])
	assert.Equal(t, "subaru", params["mode"])
	assert.NotContains(t, params, "end")
}

func TestSampleFromRow(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := sampleFromRow(map[string]any{
		"time":              ts,
		"mode":              "subaru-hybrid",
		"controls_allowed":  true,
		"driver_torque_min": int64(-12),
		"rt_torque_last":    float64(400),
		"brake_pressed":     "not a bool",
	})

	assert.Equal(t, ts, s.Timestamp)
	assert.Equal(t, "subaru-hybrid", s.Mode)
	assert.True(t, s.ControlsAllowed)
	assert.False(t, s.BrakePressed)
	assert.Equal(t, -12, s.DriverTorqueMin)
	assert.Equal(t, 400, s.RTTorqueLast)
}
