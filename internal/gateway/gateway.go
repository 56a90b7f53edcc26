// Package gateway runs a safety engine between real buses.
//
// Every received frame, every controller request and every periodic tick is
// handled by one goroutine, so the engine sees events in arrival order and
// needs no locking. Other goroutines observe the engine only through the
// published Status and the event stream.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"can-safety-gateway/internal/can"
	"can-safety-gateway/internal/metrics"
	"can-safety-gateway/internal/models"
	"can-safety-gateway/internal/safety"
)

// ErrNotRunning is returned by requests made while the loop is not running.
var ErrNotRunning = errors.New("gateway: not running")

const (
	defaultTickInterval   = 10 * time.Millisecond
	defaultSampleInterval = time.Second
	sendTimeout           = 20 * time.Millisecond
)

// FrameSink receives every frame decision.
type FrameSink interface{ Write(models.FrameRecord) }

// EventSink receives every safety event.
type EventSink interface{ Write(models.SafetyEvent) }

// SampleSink receives periodic signal samples.
type SampleSink interface{ Write(models.SignalSample) }

// Port is one attached bus segment.
type Port struct {
	Index int
	Name  string
	Bus   can.Bus
}

// Config configures a Gateway.
type Config struct {
	Variant    safety.Variant
	Clock      safety.Clock
	UnsafeMode safety.UnsafeMode
	// RelayTimeout overrides safety.DefaultRelayTimeout when nonzero.
	RelayTimeout uint32
	Session      string

	Ports []Port
	// Controller, when set, is the link to the driving-assistance
	// controller. Its frames are transmit requests for ControllerTarget.
	Controller       *Port
	ControllerTarget int

	TickInterval   time.Duration
	SampleInterval time.Duration

	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	FrameSinks  []FrameSink
	EventSinks  []EventSink
	SampleSinks []SampleSink

	// Now is the wall clock for records. Default time.Now.
	Now func() time.Time
}

type received struct {
	frame      models.CANFrame
	arrived    time.Time
	controller bool
}

// Gateway owns a safety engine and the buses it guards.
type Gateway struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	// loop-owned
	engine  *safety.Engine
	ports   map[int]Port
	pending bool

	rx     chan received
	calls  chan func()
	status atomic.Pointer[Status]
	events *broadcaster
	// done is non-nil while Run is active and closed when it returns
	done atomic.Pointer[chan struct{}]
}

// New creates a gateway. The engine is initialized immediately.
func New(cfg Config) (*Gateway, error) {
	if cfg.Variant == nil {
		return nil, errors.New("gateway: no variant")
	}
	if cfg.Clock == nil {
		cfg.Clock = safety.NewMonotonicClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = defaultSampleInterval
	}

	g := &Gateway{
		cfg:    cfg,
		logger: cfg.Logger.With("session", cfg.Session),
		now:    cfg.Now,
		ports:  make(map[int]Port, len(cfg.Ports)),
		rx:     make(chan received, 1024),
		calls:  make(chan func()),
		events: newBroadcaster(),
	}
	for _, p := range cfg.Ports {
		if _, dup := g.ports[p.Index]; dup {
			return nil, fmt.Errorf("gateway: bus %d configured twice", p.Index)
		}
		g.ports[p.Index] = p
	}
	g.engine = g.newEngine(cfg.Variant)
	g.publish()
	return g, nil
}

func (g *Gateway) newEngine(v safety.Variant) *safety.Engine {
	opts := []safety.Option{
		safety.WithUnsafeMode(g.cfg.UnsafeMode),
		safety.WithLogger(g.logger),
		safety.WithObserver(g.observer(v.Name())),
	}
	if g.cfg.RelayTimeout > 0 {
		opts = append(opts, safety.WithRelayTimeout(g.cfg.RelayTimeout))
	}
	return safety.New(v, g.cfg.Clock, opts...)
}

func (g *Gateway) observer(mode string) safety.Observer {
	return safety.ObserverFunc(func(ev safety.Event) {
		rec := models.SafetyEvent{
			Timestamp: g.now().UTC(),
			Session:   g.cfg.Session,
			Mode:      mode,
			Kind:      string(ev.Kind),
			Reason:    ev.Reason,
			Bus:       ev.Bus,
			CANID:     ev.Addr,
			Value:     ev.Value,
			ClockUS:   ev.Timestamp,
		}
		for _, s := range g.cfg.EventSinks {
			s.Write(rec)
		}
		if g.cfg.Metrics != nil {
			g.cfg.Metrics.Event(rec)
		}
		g.events.publish(rec)
		g.pending = true
	})
}

// Status returns the latest published state. Safe for concurrent use.
func (g *Gateway) Status() *Status {
	return g.status.Load()
}

// Subscribe streams safety events. The returned function unsubscribes.
func (g *Gateway) Subscribe(buf int) (<-chan models.SafetyEvent, func()) {
	return g.events.subscribe(buf)
}

// Run drives the gateway until ctx is done. Buses are not closed.
func (g *Gateway) Run(ctx context.Context) error {
	done := make(chan struct{})
	if !g.done.CompareAndSwap(nil, &done) {
		return errors.New("gateway: already running")
	}
	defer func() {
		g.done.Store(nil)
		close(done)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		wg.Wait()
	}()

	for _, p := range g.cfg.Ports {
		wg.Add(1)
		go func(p Port) {
			defer wg.Done()
			g.receive(ctx, p, false)
		}(p)
	}
	if c := g.cfg.Controller; c != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.receive(ctx, *c, true)
		}()
	}

	tick := time.NewTicker(g.cfg.TickInterval)
	defer tick.Stop()
	sample := time.NewTicker(g.cfg.SampleInterval)
	defer sample.Stop()

	g.logger.Info("gateway running", "mode", g.engine.Mode(), "buses", len(g.cfg.Ports))
	for {
		select {
		case r := <-g.rx:
			if r.controller {
				r.frame.Bus = g.cfg.ControllerTarget
				g.transmit(ctx, r.frame)
			} else {
				g.handleRx(ctx, r.frame)
			}
			if g.cfg.Metrics != nil {
				g.cfg.Metrics.ObserveDecision(time.Since(r.arrived).Seconds())
			}
		case fn := <-g.calls:
			fn()
		case <-tick.C:
			g.engine.Tick()
			g.publish()
		case <-sample.C:
			g.sample()
		case <-ctx.Done():
			g.logger.Info("gateway stopped")
			return nil
		}
		if g.pending {
			g.publish()
		}
	}
}

func (g *Gateway) receive(ctx context.Context, p Port, controller bool) {
	log := g.logger.With("bus", p.Index, "interface", p.Name)
	for {
		f, err := p.Bus.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, can.ErrClosed) {
				return
			}
			log.Warn("receive failed", "error", err)
			continue
		}
		f.Bus = p.Index
		select {
		case g.rx <- received{frame: f, arrived: time.Now(), controller: controller}:
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) handleRx(ctx context.Context, f models.CANFrame) {
	authentic := g.engine.OnReceive(f)
	target, ok := g.engine.OnForward(f.Bus, f)
	if ok && !g.send(ctx, target, f) {
		ok = false
	}
	if !ok {
		target = -1
	}

	if m := g.cfg.Metrics; m != nil {
		m.FrameReceived(f.Bus, authentic)
		if ok {
			m.FrameForwarded(f.Bus, target)
		}
	}
	g.record(models.DirectionRX, f, authentic, target)
}

// transmit runs a controller request through the engine and sends it when
// allowed.
func (g *Gateway) transmit(ctx context.Context, f models.CANFrame) bool {
	allowed := g.engine.OnTransmitRequest(f)
	if allowed {
		allowed = g.send(ctx, f.Bus, f)
	}
	if g.cfg.Metrics != nil {
		g.cfg.Metrics.TxDecision(allowed)
	}
	target := -1
	if allowed {
		target = f.Bus
	}
	g.record(models.DirectionTX, f, allowed, target)
	return allowed
}

func (g *Gateway) send(ctx context.Context, bus int, f models.CANFrame) bool {
	p, ok := g.ports[bus]
	if !ok {
		return false
	}
	f.Bus = bus
	sctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := p.Bus.Send(sctx, f); err != nil {
		g.logger.Warn("send failed", "bus", bus, "frame", f.String(), "error", err)
		return false
	}
	return true
}

func (g *Gateway) record(dir models.Direction, f models.CANFrame, accepted bool, target int) {
	if len(g.cfg.FrameSinks) == 0 {
		return
	}
	rec := models.FrameRecord{
		Timestamp:   g.now().UTC(),
		Interface:   g.ports[f.Bus].Name,
		Direction:   dir,
		Frame:       f,
		Accepted:    accepted,
		ForwardedTo: target,
	}
	for _, s := range g.cfg.FrameSinks {
		s.Write(rec)
	}
}

func (g *Gateway) publish() {
	g.pending = false
	st := newStatus(g.now().UTC(), g.cfg.Session, g.cfg.UnsafeMode, g.engine.Snapshot())
	g.status.Store(st)
	if g.cfg.Metrics != nil {
		g.cfg.Metrics.SetEngagement(st.ControlsAllowed, st.RelayMalfunction)
	}
}

func (g *Gateway) sample() {
	st := g.status.Load()
	if st == nil {
		return
	}
	s := st.Sample()
	for _, sink := range g.cfg.SampleSinks {
		sink.Write(s)
	}
}

// call runs fn on the loop goroutine and waits for it.
func (g *Gateway) call(ctx context.Context, fn func()) error {
	loop := g.done.Load()
	if loop == nil {
		return ErrNotRunning
	}
	finished := make(chan struct{})
	select {
	case g.calls <- func() { fn(); g.publish(); close(finished) }:
	case <-*loop:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Transmit asks the engine to authorize f and sends it on f.Bus when allowed.
func (g *Gateway) Transmit(ctx context.Context, f models.CANFrame) (bool, error) {
	var allowed bool
	err := g.call(ctx, func() { allowed = g.transmit(ctx, f) })
	return allowed, err
}

// Reinit resets the engine to its initial state. It is the only way to clear
// a relay malfunction.
func (g *Gateway) Reinit(ctx context.Context) error {
	return g.call(ctx, func() { g.engine.OnInit() })
}

// SetVariant switches the rule set. The new engine starts initialized.
func (g *Gateway) SetVariant(ctx context.Context, v safety.Variant) error {
	return g.call(ctx, func() {
		g.logger.Info("switching safety mode", "from", g.engine.Mode(), "to", v.Name())
		g.engine = g.newEngine(v)
	})
}
