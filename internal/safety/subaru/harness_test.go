package subaru

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"can-safety-gateway/internal/models"
	"can-safety-gateway/internal/safety"
)

// harness drives an engine with sealed frames and a manual clock.
type harness struct {
	t        *testing.T
	clock    *safety.ManualClock
	engine   *safety.Engine
	counters map[uint32]uint8
	events   []safety.Event
}

func newHarness(t *testing.T, v safety.Variant, opts ...safety.Option) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		clock:    safety.NewManualClock(0),
		counters: make(map[uint32]uint8),
	}
	opts = append([]safety.Option{
		safety.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		safety.WithObserver(safety.ObserverFunc(func(ev safety.Event) {
			h.events = append(h.events, ev)
		})),
	}, opts...)
	h.engine = safety.New(v, h.clock, opts...)
	return h
}

func (h *harness) advance(d time.Duration) { h.clock.Advance(d) }

// frame builds a sealed frame with the next counter for addr.
func (h *harness) frame(addr uint32, bus int, fill func(*models.CANFrame)) models.CANFrame {
	f := models.CANFrame{ID: addr, Bus: bus, DLC: 8}
	if fill != nil {
		fill(&f)
	}
	Seal(&f, h.counters[addr])
	h.counters[addr]++
	return f
}

// rx advances the clock 10ms and delivers the frame.
func (h *harness) rx(f models.CANFrame) bool {
	h.advance(10 * time.Millisecond)
	return h.engine.OnReceive(f)
}

func b2i(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func (h *harness) cruise(on bool) bool {
	return h.rx(h.frame(AddrCruiseControl, BusMain, func(f *models.CANFrame) {
		CruiseEngaged.Put(f, b2i(on))
	}))
}

func (h *harness) hybridCruise(on bool) bool {
	return h.rx(h.frame(AddrCruiseHybrid, BusCamera, func(f *models.CANFrame) {
		CruiseEngagedHybrid.Put(f, b2i(on))
	}))
}

func (h *harness) speed(v int64) bool {
	return h.rx(h.frame(AddrWheelSpeeds, BusMain, func(f *models.CANFrame) {
		WheelSpeedFR.Put(f, v)
		WheelSpeedRL.Put(f, v)
	}))
}

func (h *harness) brake(on bool) bool {
	return h.rx(h.frame(AddrBrakePedal, BusMain, func(f *models.CANFrame) {
		BrakePedal.Put(f, b2i(on))
	}))
}

func (h *harness) gas(on bool) bool {
	return h.rx(h.frame(AddrThrottle, BusMain, func(f *models.CANFrame) {
		ThrottlePedal.Put(f, b2i(on)*20)
	}))
}

func (h *harness) driverTorque(v int64) bool {
	return h.rx(h.frame(AddrSteeringTorque, BusMain, func(f *models.CANFrame) {
		DriverTorque.Put(f, v)
	}))
}

func steerFrame(torque int64) models.CANFrame {
	f := models.CANFrame{ID: AddrESLKAS, Bus: BusMain, DLC: 8}
	SteerTorque.Put(&f, torque)
	Seal(&f, 0)
	return f
}

func (h *harness) steer(torque int64) bool {
	return h.engine.OnTransmitRequest(steerFrame(torque))
}

func (h *harness) eventsOf(kind safety.EventKind) []safety.Event {
	var out []safety.Event
	for _, ev := range h.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}
