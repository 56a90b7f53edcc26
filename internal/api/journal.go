package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"can-safety-gateway/internal/journal"
	"can-safety-gateway/internal/models"
)

// Journal is the local store of boot sessions and their events.
type Journal interface {
	Sessions(ctx context.Context, limit int) ([]journal.Session, error)
	Events(ctx context.Context, session string, limit int) ([]models.SafetyEvent, error)
}

// JournalAPI serves the on-gateway journal.
type JournalAPI struct {
	journal Journal
}

// NewJournalAPI creates the journal handlers.
func NewJournalAPI(j Journal) *JournalAPI {
	return &JournalAPI{journal: j}
}

// GetSessions lists boot sessions, newest first
// GET /api/journal/sessions?limit=20
func (api *JournalAPI) GetSessions(w http.ResponseWriter, r *http.Request) {
	params, err := parseQueryParams(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	sessions, err := api.journal.Sessions(r.Context(), params.Limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Query failed: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, sessions)
}

// GetSessionEvents lists the events of one session
// GET /api/journal/sessions/{id}/events?limit=100
func (api *JournalAPI) GetSessionEvents(w http.ResponseWriter, r *http.Request) {
	params, err := parseQueryParams(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := api.journal.Events(r.Context(), chi.URLParam(r, "id"), params.Limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Query failed: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, events)
}
