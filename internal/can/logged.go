package can

import (
	"context"
	"log/slog"

	"can-safety-gateway/internal/models"
)

// LogOption selects which operations a logged bus records.
type LogOption uint8

const (
	LogNone LogOption = 0
	LogRead LogOption = 1 << iota
	LogWrite
	LogAll = LogRead | LogWrite
)

// NewLoggedBus wraps inner and logs the selected operations at level.
func NewLoggedBus(inner Bus, logger *slog.Logger, level slog.Level, opts LogOption) Bus {
	return &loggedBus{inner: inner, logger: logger, level: level, opts: opts}
}

type loggedBus struct {
	inner  Bus
	logger *slog.Logger
	level  slog.Level
	opts   LogOption
}

func (l *loggedBus) Send(ctx context.Context, f models.CANFrame) error {
	if l.opts&LogWrite != 0 {
		l.logger.Log(ctx, l.level, "can send", "frame", f.String())
	}
	err := l.inner.Send(ctx, f)
	if err != nil && l.opts&LogWrite != 0 {
		l.logger.Log(ctx, slog.LevelError, "can send error", "frame", f.String(), "error", err)
	}
	return err
}

func (l *loggedBus) Receive(ctx context.Context) (models.CANFrame, error) {
	f, err := l.inner.Receive(ctx)
	if l.opts&LogRead != 0 {
		if err != nil {
			l.logger.Log(ctx, slog.LevelError, "can receive error", "error", err)
		} else {
			l.logger.Log(ctx, l.level, "can receive", "frame", f.String())
		}
	}
	return f, err
}

func (l *loggedBus) Close() error {
	return l.inner.Close()
}
