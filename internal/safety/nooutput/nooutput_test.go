package nooutput

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"can-safety-gateway/internal/models"
	"can-safety-gateway/internal/safety"
)

func TestSilent(t *testing.T) {
	e := safety.New(New(), safety.NewManualClock(0),
		safety.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	f := models.CANFrame{ID: 0x122, Bus: 0, DLC: 8}
	assert.Equal(t, "nooutput", e.Mode())
	assert.True(t, e.OnReceive(f), "nothing is checked so everything is authentic")
	assert.False(t, e.OnTransmitRequest(f))

	for bus := 0; bus < 3; bus++ {
		_, ok := e.OnForward(bus, f)
		assert.False(t, ok)
	}
	assert.False(t, e.ControlsAllowed())
}
