package influxdb

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"

	"can-safety-gateway/internal/database"
	"can-safety-gateway/internal/models"
)

// Measurement is the line protocol measurement of signal samples.
const Measurement = "safety_signals"

// SampleWriter writes vehicle signal telemetry to InfluxDB.
type SampleWriter struct {
	*database.Batcher[models.SignalSample]
	client *influxdb3.Client
}

var _ database.Writer[models.SignalSample] = (*SampleWriter)(nil)

// New creates a sample writer flushing every second or every batchSize
// samples.
func New(config Config, batchSize int, logger *slog.Logger) (*SampleWriter, error) {
	client, err := influxdb3.New(influxdb3.ClientConfig{
		Host:     config.URL,
		Token:    config.Token,
		Database: config.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create InfluxDB client: %w", err)
	}

	w := &SampleWriter{client: client}
	w.Batcher = database.NewBatcher("influxdb_signals", batchSize, time.Second, w.flush, logger)
	return w, nil
}

func (w *SampleWriter) flush(ctx context.Context, batch []models.SignalSample) error {
	points := make([]*influxdb3.Point, 0, len(batch))
	for _, s := range batch {
		tags, fields := sampleValues(s)
		points = append(points, influxdb3.NewPoint(Measurement, tags, fields, s.Timestamp))
	}
	if err := w.client.WritePoints(ctx, points); err != nil {
		return fmt.Errorf("failed to write points: %w", err)
	}
	return nil
}

func sampleValues(s models.SignalSample) (map[string]string, map[string]any) {
	return map[string]string{
			"mode": s.Mode,
		}, map[string]any{
			"controls_allowed":    s.ControlsAllowed,
			"relay_malfunction":   s.RelayMalfunction,
			"vehicle_moving":      s.VehicleMoving,
			"brake_pressed":       s.BrakePressed,
			"gas_pressed":         s.GasPressed,
			"driver_torque_min":   int64(s.DriverTorqueMin),
			"driver_torque_max":   int64(s.DriverTorqueMax),
			"desired_torque_last": int64(s.DesiredTorqueLast),
			"rt_torque_last":      int64(s.RTTorqueLast),
		}
}

// Close flushes pending samples and closes the client.
func (w *SampleWriter) Close() error {
	err := w.Batcher.Close()
	if cerr := w.client.Close(); err == nil {
		err = cerr
	}
	return err
}
