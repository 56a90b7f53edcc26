//go:build !linux

package can

import (
	"errors"
	"fmt"
	"log/slog"
)

// SocketBus is only available on Linux.
type SocketBus struct{ Bus }

// NewSocketBus always fails on this platform.
func NewSocketBus(ifname string, bus int, logger *slog.Logger) (*SocketBus, error) {
	return nil, fmt.Errorf("socketcan %s: %w", ifname, errors.ErrUnsupported)
}

// SetFilter always fails on this platform.
func (b *SocketBus) SetFilter(ids []uint32) error { return errors.ErrUnsupported }
