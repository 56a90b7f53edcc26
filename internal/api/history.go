package api

import (
	"context"
	"fmt"
	"net/http"

	"can-safety-gateway/internal/database/clickhouse"
	"can-safety-gateway/internal/models"
)

// History is the fleet log of frames, events and interface statistics.
type History interface {
	Events(ctx context.Context, p models.QueryParams) ([]models.SafetyEvent, error)
	Frames(ctx context.Context, p models.QueryParams) ([]models.CANMessageResponse, error)
	EventCounts(ctx context.Context, p models.QueryParams) ([]clickhouse.EventCount, error)
	Stats(ctx context.Context, p models.QueryParams) ([]models.SocketCANStats, error)
}

// HistoryAPI serves queries over the ClickHouse logs.
type HistoryAPI struct {
	history History
}

// NewHistoryAPI creates the history handlers.
func NewHistoryAPI(h History) *HistoryAPI {
	return &HistoryAPI{history: h}
}

// GetEvents lists safety events
// GET /api/history/events?kind=violation&start_time=...&limit=100
func (api *HistoryAPI) GetEvents(w http.ResponseWriter, r *http.Request) {
	query(w, r, api.history.Events)
}

// GetEventCounts counts events by kind and reason
// GET /api/history/events/counts?start_time=...
func (api *HistoryAPI) GetEventCounts(w http.ResponseWriter, r *http.Request) {
	query(w, r, api.history.EventCounts)
}

// GetFrames lists frame decisions
// GET /api/history/frames?can_id=0x122&interface=can0&limit=100
func (api *HistoryAPI) GetFrames(w http.ResponseWriter, r *http.Request) {
	query(w, r, api.history.Frames)
}

// GetStatsHistory lists interface statistics
// GET /api/stats/history?interface=can0&start_time=...
func (api *HistoryAPI) GetStatsHistory(w http.ResponseWriter, r *http.Request) {
	query(w, r, api.history.Stats)
}

// GetLatestStats returns the newest statistics of one interface
// GET /api/stats/latest?interface=can0
func (api *HistoryAPI) GetLatestStats(w http.ResponseWriter, r *http.Request) {
	params, err := parseQueryParams(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	params.Limit, params.Offset = 1, 0

	stats, err := api.history.Stats(r.Context(), params)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Query failed: %v", err))
		return
	}
	if len(stats) == 0 {
		respondWithError(w, http.StatusNotFound, "no statistics recorded")
		return
	}
	respondWithJSON(w, http.StatusOK, stats[0])
}

// query runs a parameterized lookup and writes its result.
func query[T any](w http.ResponseWriter, r *http.Request, fn func(context.Context, models.QueryParams) (T, error)) {
	params, err := parseQueryParams(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := fn(r.Context(), params)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Query failed: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}
