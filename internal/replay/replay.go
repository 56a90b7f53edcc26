// Package replay drives a safety engine from recorded traffic: candump logs
// of a drive, or hand-written scenarios.
package replay

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"can-safety-gateway/internal/models"
	"can-safety-gateway/internal/safety"
)

const defaultTickInterval = 10 * time.Millisecond

// Options configures a log replay.
type Options struct {
	Variant    safety.Variant
	UnsafeMode safety.UnsafeMode
	// Buses maps interface names to bus indexes. Interfaces missing from the
	// map use the trailing number of their name, so can2 is bus 2.
	Buses map[string]int
	// Outbound names the interfaces whose frames were sent by the
	// controller. They are checked as transmit requests instead of received.
	Outbound map[string]int
	// TickInterval is the liveness check period on the log clock.
	TickInterval time.Duration
	Logger       *slog.Logger
}

// Report summarizes a replay.
type Report struct {
	Frames       int
	Authentic    int
	AuthFailures int
	Forwarded    int
	TxAllowed    int
	TxBlocked    int
	Duration     time.Duration

	Events []safety.Event
	Final  safety.Snapshot
}

// Violations returns the limiter violations of the replay.
func (r *Report) Violations() []safety.Event {
	var out []safety.Event
	for _, e := range r.Events {
		if e.Kind == safety.EventViolation {
			out = append(out, e)
		}
	}
	return out
}

// Replay runs frames through a fresh engine on a clock taken from the log
// timestamps.
func Replay(frames []LogFrame, opts Options) (*Report, error) {
	if opts.Variant == nil {
		return nil, fmt.Errorf("replay: no variant")
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaultTickInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	report := &Report{}
	clock := safety.NewManualClock(0)
	engine := safety.New(opts.Variant, clock,
		safety.WithUnsafeMode(opts.UnsafeMode),
		safety.WithLogger(opts.Logger),
		safety.WithObserver(safety.ObserverFunc(func(e safety.Event) {
			report.Events = append(report.Events, e)
		})),
	)

	if len(frames) == 0 {
		report.Final = engine.Snapshot()
		return report, nil
	}

	start := frames[0].Timestamp
	var lastTick time.Duration
	for _, lf := range frames {
		offset := lf.Timestamp.Sub(start)
		if offset < 0 {
			return nil, fmt.Errorf("replay: log goes back in time at %s", lf.Timestamp.Format(time.RFC3339Nano))
		}
		for offset-lastTick >= opts.TickInterval {
			lastTick += opts.TickInterval
			clock.Set(uint32(lastTick.Microseconds()))
			engine.Tick()
		}
		clock.Set(uint32(offset.Microseconds()))

		f := lf.Frame
		report.Frames++
		report.Duration = offset

		if target, ok := opts.Outbound[lf.Interface]; ok {
			f.Bus = target
			if engine.OnTransmitRequest(f) {
				report.TxAllowed++
			} else {
				report.TxBlocked++
			}
			continue
		}

		bus, err := busIndex(lf.Interface, opts.Buses)
		if err != nil {
			return nil, err
		}
		f.Bus = bus
		if engine.OnReceive(f) {
			report.Authentic++
		} else {
			report.AuthFailures++
		}
		if _, ok := engine.OnForward(f.Bus, f); ok {
			report.Forwarded++
		}
	}

	report.Final = engine.Snapshot()
	return report, nil
}

func busIndex(iface string, buses map[string]int) (int, error) {
	if bus, ok := buses[iface]; ok {
		return bus, nil
	}
	digits := strings.TrimLeftFunc(iface, func(r rune) bool { return r < '0' || r > '9' })
	n, err := strconv.Atoi(digits)
	if err != nil || digits == "" {
		return 0, fmt.Errorf("replay: no bus for interface %q", iface)
	}
	return n, nil
}

// Summary renders the report for a terminal.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "frames: %d over %s\n", r.Frames, r.Duration)
	fmt.Fprintf(&b, "received: %d authentic, %d failed authentication, %d forwarded\n",
		r.Authentic, r.AuthFailures, r.Forwarded)
	fmt.Fprintf(&b, "transmit: %d allowed, %d blocked\n", r.TxAllowed, r.TxBlocked)
	counts := map[safety.EventKind]int{}
	for _, e := range r.Events {
		counts[e.Kind]++
	}
	for _, k := range []safety.EventKind{
		safety.EventEngaged, safety.EventDisengaged, safety.EventViolation,
		safety.EventTxBlocked, safety.EventAuthFailure, safety.EventLagging, safety.EventRelayMalfunction,
	} {
		if n := counts[k]; n > 0 {
			fmt.Fprintf(&b, "%s: %d\n", k, n)
		}
	}
	for _, v := range r.Violations() {
		fmt.Fprintf(&b, "violation at %dus: torque %d (%s)\n", v.Timestamp, v.Value, v.Reason)
	}
	fmt.Fprintf(&b, "final: controls_allowed=%t relay_malfunction=%t\n",
		r.Final.State.ControlsAllowed, r.Final.State.RelayMalfunction)
	return b.String()
}

// describeEvent formats an event for traces.
func describeEvent(e safety.Event) string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Reason != "" {
		fmt.Fprintf(&b, " reason=%s", e.Reason)
	}
	if e.Addr != 0 {
		fmt.Fprintf(&b, " bus=%d id=0x%X", e.Bus, e.Addr)
	}
	if e.Value != 0 {
		fmt.Fprintf(&b, " value=%d", e.Value)
	}
	return b.String()
}

func describeFrame(f models.CANFrame) string {
	return fmt.Sprintf("bus=%d id=0x%X", f.Bus, f.ID)
}
