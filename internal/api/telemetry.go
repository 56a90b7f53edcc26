package api

import (
	"context"
	"net/http"

	"can-safety-gateway/internal/models"
)

// Telemetry is the InfluxDB store of signal samples.
type Telemetry interface {
	Samples(ctx context.Context, p models.QueryParams) ([]models.SignalSample, error)
}

// TelemetryAPI serves signal samples.
type TelemetryAPI struct {
	telemetry Telemetry
}

// NewTelemetryAPI creates the telemetry handler.
func NewTelemetryAPI(t Telemetry) *TelemetryAPI {
	return &TelemetryAPI{telemetry: t}
}

// GetSamples lists signal samples, newest first. kind filters by mode.
// GET /api/telemetry?kind=subaru&start_time=...&limit=100
func (api *TelemetryAPI) GetSamples(w http.ResponseWriter, r *http.Request) {
	query(w, r, api.telemetry.Samples)
}
