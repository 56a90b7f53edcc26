package gateway

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"can-safety-gateway/internal/can"
	"can-safety-gateway/internal/metrics"
	"can-safety-gateway/internal/models"
	"can-safety-gateway/internal/safety"
	"can-safety-gateway/internal/safety/nooutput"
	"can-safety-gateway/internal/safety/subaru"
)

type sink[T any] struct {
	mu   sync.Mutex
	recs []T
}

func (s *sink[T]) Write(v T) {
	s.mu.Lock()
	s.recs = append(s.recs, v)
	s.mu.Unlock()
}

func (s *sink[T]) all() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]T(nil), s.recs...)
}

type rig struct {
	t          *testing.T
	gw         *Gateway
	clock      *safety.ManualClock
	car        can.Bus
	camera     can.Bus
	controller can.Bus
	frames     *sink[models.FrameRecord]
	events     *sink[models.SafetyEvent]
	samples    *sink[models.SignalSample]
	counters   map[uint32]uint8
}

func newRig(t *testing.T, v safety.Variant) *rig {
	t.Helper()
	car, cam, ctrl := can.NewLoopbackBus(), can.NewLoopbackBus(), can.NewLoopbackBus()
	t.Cleanup(func() {
		car.Close()
		cam.Close()
		ctrl.Close()
	})

	r := &rig{
		t:        t,
		clock:    safety.NewManualClock(0),
		frames:   &sink[models.FrameRecord]{},
		events:   &sink[models.SafetyEvent]{},
		samples:  &sink[models.SignalSample]{},
		counters: make(map[uint32]uint8),
	}
	gw, err := New(Config{
		Variant: v,
		Clock:   r.clock,
		Session: "test-session",
		Ports: []Port{
			{Index: subaru.BusMain, Name: "vcan0", Bus: car.Open(subaru.BusMain)},
			{Index: subaru.BusCamera, Name: "vcan2", Bus: cam.Open(subaru.BusCamera)},
		},
		Controller:       &Port{Index: 1, Name: "vcan1", Bus: ctrl.Open(1)},
		ControllerTarget: subaru.BusMain,
		TickInterval:     5 * time.Millisecond,
		SampleInterval:   10 * time.Millisecond,
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:          metrics.New(prometheus.NewRegistry()),
		FrameSinks:       []FrameSink{r.frames},
		EventSinks:       []EventSink{r.events},
		SampleSinks:      []SampleSink{r.samples},
	})
	require.NoError(t, err)
	r.gw = gw
	r.car = car.Open(subaru.BusMain)
	r.camera = cam.Open(subaru.BusCamera)
	r.controller = ctrl.Open(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	require.Eventually(t, func() bool { return gw.done.Load() != nil }, time.Second, time.Millisecond)
	return r
}

func (r *rig) sealed(addr uint32, fill func(*models.CANFrame)) models.CANFrame {
	f := models.CANFrame{ID: addr, DLC: 8}
	if fill != nil {
		fill(&f)
	}
	subaru.Seal(&f, r.counters[addr])
	r.counters[addr]++
	return f
}

func (r *rig) send(bus can.Bus, f models.CANFrame) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(r.t, bus.Send(ctx, f))
}

func (r *rig) expect(bus can.Bus, addr uint32) models.CANFrame {
	r.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for {
		f, err := bus.Receive(ctx)
		require.NoError(r.t, err, "waiting for %#x", addr)
		if f.ID == addr {
			return f
		}
	}
}

func (r *rig) expectNone(bus can.Bus, addr uint32) {
	r.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	for {
		f, err := bus.Receive(ctx)
		if err != nil {
			return
		}
		assert.NotEqual(r.t, addr, f.ID, "unexpected frame %s", f)
	}
}

func (r *rig) engage() {
	r.send(r.car, r.sealed(subaru.AddrCruiseControl, func(f *models.CANFrame) {
		subaru.CruiseEngaged.Put(f, 1)
	}))
	require.Eventually(r.t, func() bool { return r.gw.Status().ControlsAllowed }, time.Second, time.Millisecond)
}

func steer(torque int64) models.CANFrame {
	f := models.CANFrame{ID: subaru.AddrESLKAS, Bus: subaru.BusMain, DLC: 8}
	subaru.SteerTorque.Put(&f, torque)
	subaru.Seal(&f, 0)
	return f
}

func TestGateway_Forwarding(t *testing.T) {
	r := newRig(t, subaru.Standard())

	r.send(r.car, r.sealed(subaru.AddrWheelSpeeds, nil))
	got := r.expect(r.camera, subaru.AddrWheelSpeeds)
	assert.Equal(t, subaru.BusCamera, got.Bus)

	r.send(r.camera, models.NewCANFrame(0x123, 0, []byte{1}))
	r.expect(r.car, 0x123)

	r.send(r.camera, steer(0))
	r.expectNone(r.car, subaru.AddrESLKAS)

	require.Eventually(t, func() bool { return len(r.frames.all()) >= 3 }, time.Second, time.Millisecond)
	recs := r.frames.all()
	assert.Equal(t, models.DirectionRX, recs[0].Direction)
	assert.Equal(t, "vcan0", recs[0].Interface)
	assert.Equal(t, subaru.BusCamera, recs[0].ForwardedTo)
	assert.Equal(t, -1, recs[2].ForwardedTo)
}

func TestGateway_Transmit(t *testing.T) {
	r := newRig(t, subaru.Standard())
	ctx := context.Background()

	allowed, err := r.gw.Transmit(ctx, steer(50))
	require.NoError(t, err)
	assert.False(t, allowed, "not engaged")

	r.engage()
	events, unsubscribe := r.gw.Subscribe(16)
	defer unsubscribe()

	allowed, err = r.gw.Transmit(ctx, steer(50))
	require.NoError(t, err)
	assert.True(t, allowed)
	got := r.expect(r.car, subaru.AddrESLKAS)
	assert.Equal(t, 50, subaru.SteerTorque.Int(got))

	allowed, err = r.gw.Transmit(ctx, steer(2047))
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.False(t, r.gw.Status().ControlsAllowed)

	var kinds []string
	timeout := time.After(time.Second)
	for len(kinds) < 2 {
		select {
		case e := <-events:
			kinds = append(kinds, e.Kind)
			assert.Equal(t, "test-session", e.Session)
			assert.Equal(t, "subaru", e.Mode)
		case <-timeout:
			t.Fatalf("got events %v", kinds)
		}
	}
	assert.Equal(t, []string{"violation", "disengaged"}, kinds)
}

func TestGateway_ControllerLink(t *testing.T) {
	r := newRig(t, subaru.Standard())

	r.send(r.controller, steer(0))
	got := r.expect(r.car, subaru.AddrESLKAS)
	assert.Equal(t, subaru.BusMain, got.Bus)

	r.send(r.controller, models.NewCANFrame(0x7DF, 0, []byte{2, 1, 0}))
	r.expectNone(r.car, 0x7DF)

	require.Eventually(t, func() bool {
		n := 0
		for _, rec := range r.frames.all() {
			if rec.Direction == models.DirectionTX {
				n++
			}
		}
		return n == 2
	}, time.Second, time.Millisecond)
}

func TestGateway_RelayMalfunction(t *testing.T) {
	r := newRig(t, subaru.Standard())
	r.engage()

	r.clock.Advance(2 * time.Second)
	r.send(r.car, models.NewCANFrame(subaru.AddrESLKAS, 0, make([]byte, 8)))
	require.Eventually(t, func() bool { return r.gw.Status().RelayMalfunction }, time.Second, time.Millisecond)
	assert.False(t, r.gw.Status().ControlsAllowed)

	allowed, err := r.gw.Transmit(context.Background(), steer(0))
	require.NoError(t, err)
	assert.False(t, allowed)

	r.send(r.car, r.sealed(subaru.AddrWheelSpeeds, nil))
	r.expectNone(r.camera, subaru.AddrWheelSpeeds)

	require.NoError(t, r.gw.Reinit(context.Background()))
	assert.False(t, r.gw.Status().RelayMalfunction)
	r.send(r.car, r.sealed(subaru.AddrWheelSpeeds, nil))
	r.expect(r.camera, subaru.AddrWheelSpeeds)

	var kinds []string
	for _, e := range r.events.all() {
		kinds = append(kinds, e.Kind)
	}
	assert.Contains(t, kinds, "relay_malfunction")
}

func TestGateway_SetVariant(t *testing.T) {
	r := newRig(t, subaru.Standard())

	require.NoError(t, r.gw.SetVariant(context.Background(), nooutput.New()))
	assert.Equal(t, "nooutput", r.gw.Status().Mode)

	r.send(r.car, r.sealed(subaru.AddrWheelSpeeds, nil))
	r.expectNone(r.camera, subaru.AddrWheelSpeeds)
}

func TestGateway_Samples(t *testing.T) {
	r := newRig(t, subaru.Hybrid())

	require.Eventually(t, func() bool { return len(r.samples.all()) > 0 }, time.Second, time.Millisecond)
	s := r.samples.all()[0]
	assert.Equal(t, "subaru-hybrid", s.Mode)
	assert.False(t, s.ControlsAllowed)
}

func TestGateway_NotRunning(t *testing.T) {
	gw, err := New(Config{Variant: nooutput.New(), Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, err)

	_, err = gw.Transmit(context.Background(), steer(0))
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.ErrorIs(t, gw.Reinit(context.Background()), ErrNotRunning)
	require.NotNil(t, gw.Status())
	assert.Equal(t, "nooutput", gw.Status().Mode)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	lb := can.NewLoopbackBus()
	defer lb.Close()
	_, err = New(Config{
		Variant: nooutput.New(),
		Ports:   []Port{{Index: 0, Bus: lb.Open(0)}, {Index: 0, Bus: lb.Open(0)}},
	})
	assert.Error(t, err)
}
