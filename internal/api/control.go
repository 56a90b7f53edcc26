package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"can-safety-gateway/internal/gateway"
	"can-safety-gateway/internal/models"
	"can-safety-gateway/internal/modes"
	"can-safety-gateway/internal/safety"
)

// Gateway is the running safety gateway.
type Gateway interface {
	Status() *gateway.Status
	Subscribe(buf int) (<-chan models.SafetyEvent, func())
	Reinit(ctx context.Context) error
	SetVariant(ctx context.Context, v safety.Variant) error
}

const (
	streamBuffer       = 64
	streamWriteTimeout = 5 * time.Second
	controlTimeout     = 2 * time.Second
)

// ControlAPI exposes the live gateway state and its controls.
type ControlAPI struct {
	gateway Gateway
	// origins allowed to open the event stream besides the API host
	origins []string
	logger  *slog.Logger
}

// NewControlAPI creates the control handlers.
func NewControlAPI(g Gateway, origins []string, logger *slog.Logger) *ControlAPI {
	return &ControlAPI{gateway: g, origins: origins, logger: logger}
}

// GetState returns the latest published status
// GET /api/state
func (api *ControlAPI) GetState(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, api.gateway.Status())
}

// GetModes lists the registered safety modes
// GET /api/modes
func (api *ControlAPI) GetModes(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]any{
		"current": api.gateway.Status().Mode,
		"modes":   modes.Names(),
	})
}

// Reinit resets the engine, clearing a relay malfunction
// POST /api/reinit
func (api *ControlAPI) Reinit(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), controlTimeout)
	defer cancel()
	if err := api.gateway.Reinit(ctx); err != nil {
		api.controlError(w, err)
		return
	}
	api.logger.Warn("safety engine reinitialized via API", "remote", r.RemoteAddr)
	respondWithJSON(w, http.StatusOK, api.gateway.Status())
}

type modeRequest struct {
	Mode string `json:"mode"`
}

// SetMode switches the safety rule set
// POST /api/mode (body: {"mode": "subaru"})
func (api *ControlAPI) SetMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	v, err := modes.Lookup(req.Mode)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), controlTimeout)
	defer cancel()
	if err := api.gateway.SetVariant(ctx, v); err != nil {
		api.controlError(w, err)
		return
	}
	api.logger.Warn("safety mode switched via API", "mode", req.Mode, "remote", r.RemoteAddr)
	respondWithJSON(w, http.StatusOK, api.gateway.Status())
}

func (api *ControlAPI) controlError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gateway.ErrNotRunning):
		respondWithError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondWithError(w, http.StatusGatewayTimeout, "gateway did not respond")
	default:
		respondWithError(w, http.StatusInternalServerError, err.Error())
	}
}

// StreamEvents pushes safety events over a websocket as they happen
// GET /api/events/stream
func (api *ControlAPI) StreamEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: api.origins})
	if err != nil {
		api.logger.Debug("websocket accept failed", "error", err)
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe := api.gateway.Subscribe(streamBuffer)
	defer unsubscribe()

	// the first message is the current status
	if err := wsjson.Write(ctx, conn, api.gateway.Status()); err != nil {
		conn.Close(websocket.StatusInternalError, "write failed")
		return
	}

	// CloseRead drains client frames and cancels ctx when the client leaves
	ctx = conn.CloseRead(ctx)
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "closed")
				return
			}
			wctx, cancelWrite := context.WithTimeout(ctx, streamWriteTimeout)
			err := wsjson.Write(wctx, conn, ev)
			cancelWrite()
			if err != nil {
				conn.Close(websocket.StatusNormalClosure, "write failed")
				return
			}
		}
	}
}
