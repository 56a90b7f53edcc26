package safety

import (
	"log/slog"

	"can-safety-gateway/internal/models"
)

// DefaultRelayTimeout is how long after OnInit the physical relay is given to
// disconnect the stock ECU before its traffic counts as a malfunction.
const DefaultRelayTimeout uint32 = 1_000_000

// Engine binds a Variant to the shared authentication, state tracking,
// engagement, limiting and forwarding logic.
type Engine struct {
	variant  Variant
	clock    Clock
	unsafe   UnsafeMode
	logger   *slog.Logger
	observer Observer

	auth  *Authenticator
	txMsg []TxMsg
	state State

	relayTimeout uint32
	initAt       uint32
	relayArmed   bool

	// now is the clock reading for the hook in progress
	now uint32
}

// Option configures an Engine.
type Option func(*Engine)

// WithUnsafeMode sets the externally owned unsafe-mode bitmask.
func WithUnsafeMode(m UnsafeMode) Option {
	return func(e *Engine) { e.unsafe = m }
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithObserver registers a sink for diagnostic events.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithRelayTimeout overrides DefaultRelayTimeout (microseconds).
func WithRelayTimeout(us uint32) Option {
	return func(e *Engine) { e.relayTimeout = us }
}

// New creates an initialized engine for the variant.
func New(v Variant, clock Clock, opts ...Option) *Engine {
	e := &Engine{
		variant:      v,
		clock:        clock,
		logger:       slog.Default(),
		relayTimeout: DefaultRelayTimeout,
		auth:         NewAuthenticator(v.RxChecks(), v.Protocol()),
		txMsg:        append([]TxMsg(nil), v.TxMsgs()...),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("mode", v.Name())
	e.OnInit()
	return e
}

// Mode returns the variant name.
func (e *Engine) Mode() string { return e.variant.Name() }

// OnInit resets all mutable state to defaults. Called on start and whenever
// the variant is switched; it is the only way to clear a relay malfunction.
func (e *Engine) OnInit() {
	e.now = e.clock.NowMicros()
	e.state.Reset()
	e.state.RTTimestampLast = e.now
	e.auth.Reset()
	e.initAt = e.now
	e.relayArmed = false
	e.emit(Event{Kind: EventInit})
	e.logger.Info("safety engine initialized", "unsafe_mode", e.unsafe.String())
}

// OnReceive authenticates an inbound frame and, if it passes, lets the variant
// update vehicle state. The return value reports authenticity.
func (e *Engine) OnReceive(f models.CANFrame) bool {
	e.tick()
	if _, fail := e.auth.Check(f, e.now); fail != 0 {
		e.emit(Event{Kind: EventAuthFailure, Reason: fail.String(), Bus: f.Bus, Addr: f.ID})
		e.logger.Debug("frame failed authentication", "bus", f.Bus, "addr", f.ID, "fail", fail.String())
		return false
	}
	e.variant.Rx(e, f)
	return true
}

// OnTransmitRequest decides whether an outbound frame may be sent. false means
// the frame must be dropped.
func (e *Engine) OnTransmitRequest(f models.CANFrame) bool {
	e.tick()
	// the variant always runs so that limiter latches track every command
	allowed := e.variant.Tx(e, f)

	if !e.whitelisted(f) {
		e.emit(Event{Kind: EventTxBlocked, Reason: ReasonNotWhitelisted, Bus: f.Bus, Addr: f.ID})
		allowed = false
	}
	if e.state.RelayMalfunction {
		e.emit(Event{Kind: EventTxBlocked, Reason: ReasonRelayMalfunction, Bus: f.Bus, Addr: f.ID})
		allowed = false
	}
	return allowed
}

// OnForward returns the bus a received frame should be mirrored to.
func (e *Engine) OnForward(bus int, f models.CANFrame) (int, bool) {
	if e.state.RelayMalfunction {
		return -1, false
	}
	return e.variant.Fwd(e, bus, f)
}

// Tick checks liveness of authenticated messages and disengages while any of
// them is lagging. Intended to be called periodically.
func (e *Engine) Tick() {
	e.tick()
	newly, lagging := e.auth.CheckLiveness(e.now)
	for _, rule := range newly {
		e.emit(Event{Kind: EventLagging, Bus: rule.Bus, Addr: rule.Addr})
		e.logger.Warn("message stopped arriving", "bus", rule.Bus, "addr", rule.Addr)
	}
	if lagging {
		e.Disengage(ReasonLagging)
	}
}

func (e *Engine) tick() {
	e.now = e.clock.NowMicros()
	if !e.relayArmed && Elapsed(e.now, e.initAt) > e.relayTimeout {
		e.relayArmed = true
	}
}

func (e *Engine) whitelisted(f models.CANFrame) bool {
	for _, m := range e.txMsg {
		if m.Addr == f.ID && m.Bus == f.Bus && m.Len == f.DLC {
			return true
		}
	}
	return false
}

func (e *Engine) emit(ev Event) {
	if e.observer == nil {
		return
	}
	ev.Timestamp = e.now
	e.observer.Observe(ev)
}

// State returns the live state for variant hooks. Callers outside a hook
// should use Snapshot.
func (e *Engine) State() *State { return &e.state }

// Now returns the clock reading taken at the start of the hook in progress.
func (e *Engine) Now() uint32 { return e.now }

// UnsafeMode returns the unsafe-mode bitmask.
func (e *Engine) UnsafeMode() UnsafeMode { return e.unsafe }

// ControlsAllowed reports the engagement state.
func (e *Engine) ControlsAllowed() bool { return e.state.ControlsAllowed }

// RelayMalfunction reports the sticky relay fault.
func (e *Engine) RelayMalfunction() bool { return e.state.RelayMalfunction }

// Snapshot is a copy of the engine state for diagnostics.
type Snapshot struct {
	Mode   string
	Now    uint32
	State  State
	Checks []CheckStatus
}

// Snapshot copies the current state.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		Mode:   e.variant.Name(),
		Now:    e.now,
		State:  e.state,
		Checks: e.auth.Status(),
	}
}
