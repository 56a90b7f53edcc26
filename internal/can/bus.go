package can

import (
	"context"

	"can-safety-gateway/internal/models"
)

// Bus is one attached bus segment. Received frames carry the segment's bus
// index.
type Bus interface {
	Receive(ctx context.Context) (models.CANFrame, error)
	Send(ctx context.Context, f models.CANFrame) error
	Close() error
}
