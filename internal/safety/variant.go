package safety

import "can-safety-gateway/internal/models"

// TxMsg whitelists an outbound message.
type TxMsg struct {
	Addr uint32
	Bus  int
	Len  uint8
}

// Variant is the vehicle-specific rule set bound into an Engine.
//
// Hooks receive the engine that owns the state and use its exported helpers to
// read and mutate it. They run inside an engine hook and must not retain the
// frame.
type Variant interface {
	Name() string
	Protocol() Protocol
	RxChecks() []RxCheck
	TxMsgs() []TxMsg

	// Rx updates vehicle state from a frame that passed authentication.
	Rx(e *Engine, f models.CANFrame)
	// Tx validates an outbound frame. Whitelist and relay checks are applied
	// by the engine in addition to this result.
	Tx(e *Engine, f models.CANFrame) bool
	// Fwd returns the bus a received frame is mirrored to. The engine never
	// calls it while a relay malfunction is flagged.
	Fwd(e *Engine, bus int, f models.CANFrame) (int, bool)
}
