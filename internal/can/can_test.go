package can

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"can-safety-gateway/internal/models"
)

func TestEncodeDecodeFrame(t *testing.T) {
	f := models.NewCANFrame(0x122, 0, []byte{0xDE, 0xAD, 0xBE, 0xEF})

	buf, err := EncodeFrame(f)
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x22, 0x01, 0x00, 0x00, 4, 0, 0, 0,
		0xDE, 0xAD, 0xBE, 0xEF, 0, 0, 0, 0,
	}, buf)

	got, err := DecodeFrame(buf)
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestEncodeFrame_Extended(t *testing.T) {
	f := models.NewCANFrame(0x18DAF110, 0, []byte{1})
	buf, err := EncodeFrame(f)
	require.NoError(t, err)
	assert.Equal(t, byte(0x98), buf[3], "extended flag is set")

	got, err := DecodeFrame(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x18DAF110), got.ID)
}

func TestEncodeFrame_Invalid(t *testing.T) {
	_, err := EncodeFrame(models.CANFrame{ID: 0x100, DLC: 9})
	assert.Error(t, err)
	_, err = EncodeFrame(models.CANFrame{ID: 0x20000000})
	assert.Error(t, err)
}

func TestDecodeFrame_Rejects(t *testing.T) {
	_, err := DecodeFrame(make([]byte, 8))
	assert.Error(t, err)

	rtr := make([]byte, FrameSize)
	rtr[3] = 0x40
	_, err = DecodeFrame(rtr)
	assert.ErrorIs(t, err, ErrUnsupportedFrame)
}

func TestLoopbackBus_TagsBusIndex(t *testing.T) {
	lb := NewLoopbackBus()
	defer lb.Close()

	car := lb.Open(-1)
	gw := lb.Open(2)
	other := lb.Open(2)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	f := models.NewCANFrame(0x321, 0, []byte{1, 2, 3})
	require.NoError(t, car.Send(ctx, f))

	for _, ep := range []Bus{gw, other} {
		got, err := ep.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Bus)
		assert.Equal(t, f.Payload(), got.Payload())
	}
}

func TestLoopbackBus_SenderDoesNotReceiveOwnFrame(t *testing.T) {
	lb := NewLoopbackBus()
	defer lb.Close()
	a := lb.Open(0)

	require.NoError(t, a.Send(context.Background(), models.NewCANFrame(0x1, 0, nil)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := a.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLoopbackBus_Close(t *testing.T) {
	lb := NewLoopbackBus()
	a := lb.Open(0)
	b := lb.Open(0)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	_, err := b.Receive(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, b.Send(context.Background(), models.CANFrame{}), ErrClosed)

	require.NoError(t, lb.Close())
	assert.ErrorIs(t, a.Send(context.Background(), models.CANFrame{}), ErrClosed)

	late := lb.Open(0)
	_, err = late.Receive(context.Background())
	assert.True(t, errors.Is(err, ErrClosed))
}

type recordSink struct {
	records []slog.Record
}

func (s *recordSink) Enabled(context.Context, slog.Level) bool { return true }
func (s *recordSink) Handle(_ context.Context, r slog.Record) error {
	s.records = append(s.records, r.Clone())
	return nil
}
func (s *recordSink) WithAttrs([]slog.Attr) slog.Handler { return s }
func (s *recordSink) WithGroup(string) slog.Handler      { return s }

func (s *recordSink) has(level slog.Level, msg string) bool {
	for _, r := range s.records {
		if r.Level == level && r.Message == msg {
			return true
		}
	}
	return false
}

func TestLoggedBus(t *testing.T) {
	lb := NewLoopbackBus()
	defer lb.Close()

	sink := &recordSink{}
	logger := slog.New(sink)
	sender := NewLoggedBus(lb.Open(0), logger, slog.LevelDebug, LogWrite)
	receiver := NewLoggedBus(lb.Open(0), logger, slog.LevelDebug, LogRead)

	ctx := context.Background()
	require.NoError(t, sender.Send(ctx, models.NewCANFrame(0x40, 0, []byte{1})))
	_, err := receiver.Receive(ctx)
	require.NoError(t, err)

	assert.True(t, sink.has(slog.LevelDebug, "can send"))
	assert.True(t, sink.has(slog.LevelDebug, "can receive"))

	require.NoError(t, receiver.Close())
	_, err = receiver.Receive(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.True(t, sink.has(slog.LevelError, "can receive error"))
}

func TestParseIPOutput(t *testing.T) {
	out, err := os.ReadFile("testdata/ip_link_can0.txt")
	require.NoError(t, err)

	s := ParseIPOutput(string(out))
	assert.Equal(t, "UP", s.State)
	assert.Equal(t, "ERROR-WARNING", s.BusState)
	assert.Equal(t, 500000, s.Bitrate)
	assert.Equal(t, "87.5%", s.SamplePoint)
	assert.Equal(t, 96, s.TXErrorCounter)
	assert.Equal(t, 3, s.RXErrorCounter)
	assert.Equal(t, uint64(512), s.RXPackets)
	assert.Equal(t, uint64(3), s.RXErrors)
	assert.Equal(t, uint64(1), s.RXDropped)
	assert.Equal(t, uint64(256), s.TXPackets)
	assert.Equal(t, uint64(1), s.TXErrors)
	assert.Equal(t, uint64(2), s.BusOffRestarts)
	assert.Equal(t, uint64(5), s.ErrorWarning)
	assert.Equal(t, uint64(1), s.ErrorPassive)
	assert.Equal(t, uint64(2), s.BusOff)
	assert.True(t, s.BusHealthy())
}

func TestParseIPOutput_Down(t *testing.T) {
	s := ParseIPOutput("4: can1: <NOARP,ECHO> mtu 16 qdisc noop state DOWN mode DEFAULT group default qlen 10\n")
	assert.Equal(t, "DOWN", s.State)
	assert.False(t, s.BusHealthy())
}

func TestStatsCollector_Collect(t *testing.T) {
	out, err := os.ReadFile("testdata/ip_link_can0.txt")
	require.NoError(t, err)

	var gotArgs []string
	sc := NewStatsCollector("can0", 0, time.Second, slog.Default()).
		WithRunner(func(_ context.Context, name string, args ...string) ([]byte, error) {
			gotArgs = append([]string{name}, args...)
			return out, nil
		})

	s, err := sc.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ip", "-details", "-statistics", "link", "show", "can0"}, gotArgs)
	assert.Equal(t, "can0", s.Interface)
	assert.False(t, s.Timestamp.IsZero())
}

func TestStatsCollector_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	sc := NewStatsCollector("can0", 0, time.Hour, slog.Default()).
		WithRunner(func(context.Context, string, ...string) ([]byte, error) {
			return []byte("1: can0: <UP> mtu 16\n"), nil
		})

	done := make(chan struct{})
	go func() {
		sc.Run(ctx, func(models.SocketCANStats) {
			calls++
			cancel()
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("collector did not stop")
	}
	assert.Equal(t, 1, calls)
}
