package influxdb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"

	"can-safety-gateway/internal/models"
)

const sampleColumns = "time, mode, controls_allowed, relay_malfunction, vehicle_moving, brake_pressed, gas_pressed, " +
	"driver_torque_min, driver_torque_max, desired_torque_last, rt_torque_last"

func samplesQuery(p models.QueryParams) (string, influxdb3.QueryParameters) {
	var b strings.Builder
	params := influxdb3.QueryParameters{}
	fmt.Fprintf(&b, "SELECT %s FROM %s WHERE 1=1", sampleColumns, Measurement)
	if p.StartTime != nil {
		b.WriteString(" AND time >= $start")
		params["start"] = p.StartTime.UTC().Format(time.RFC3339Nano)
	}
	if p.EndTime != nil {
		b.WriteString(" AND time <= $end")
		params["end"] = p.EndTime.UTC().Format(time.RFC3339Nano)
	}
	if p.Kind != "" {
		b.WriteString(" AND mode = $mode")
		params["mode"] = p.Kind
	}
	b.WriteString(" ORDER BY time DESC")
	if p.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", p.Limit)
	}
	if p.Offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", p.Offset)
	}
	return b.String(), params
}

// Samples returns stored signal samples, newest first. QueryParams.Kind
// filters by safety mode.
func (w *SampleWriter) Samples(ctx context.Context, p models.QueryParams) ([]models.SignalSample, error) {
	query, params := samplesQuery(p)
	it, err := w.client.QueryWithParameters(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	samples := []models.SignalSample{}
	for it.Next() {
		samples = append(samples, sampleFromRow(it.Value()))
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	return samples, nil
}

func sampleFromRow(row map[string]any) models.SignalSample {
	s := models.SignalSample{
		Mode:              asString(row["mode"]),
		ControlsAllowed:   asBool(row["controls_allowed"]),
		RelayMalfunction:  asBool(row["relay_malfunction"]),
		VehicleMoving:     asBool(row["vehicle_moving"]),
		BrakePressed:      asBool(row["brake_pressed"]),
		GasPressed:        asBool(row["gas_pressed"]),
		DriverTorqueMin:   asInt(row["driver_torque_min"]),
		DriverTorqueMax:   asInt(row["driver_torque_max"]),
		DesiredTorqueLast: asInt(row["desired_torque_last"]),
		RTTorqueLast:      asInt(row["rt_torque_last"]),
	}
	if t, ok := row["time"].(time.Time); ok {
		s.Timestamp = t
	}
	return s
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case float64:
		return int(n)
	case uint64:
		return int(n)
	}
	return 0
}
