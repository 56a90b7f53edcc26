package replay

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"can-safety-gateway/internal/safety"
	"can-safety-gateway/internal/safety/nooutput"
	"can-safety-gateway/internal/safety/subaru"
)

func TestParseCandump(t *testing.T) {
	frames, err := ParseCandump(strings.NewReader(`
(1436509052.249713) vcan0 123#DEADBEEF
# comment
(1436509052.250000) can1 1FFFFFFF#
(1436509052.3) can0 7DF#R
(1436509052.4) can0 123##011223
(1436509052.5) can0 321#11.22.33
`))
	require.NoError(t, err)
	require.Len(t, frames, 3)

	assert.Equal(t, "vcan0", frames[0].Interface)
	assert.Equal(t, uint32(0x123), frames[0].Frame.ID)
	assert.Equal(t, uint8(4), frames[0].Frame.DLC)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, frames[0].Frame.Payload())
	assert.Equal(t, time.Unix(1436509052, 249713000).UTC(), frames[0].Timestamp)

	assert.Equal(t, uint32(0x1FFFFFFF), frames[1].Frame.ID)
	assert.Equal(t, uint8(0), frames[1].Frame.DLC)

	assert.Equal(t, []byte{0x11, 0x22, 0x33}, frames[2].Frame.Payload())
	assert.Equal(t, 500*time.Millisecond, frames[2].Timestamp.Sub(time.Unix(1436509052, 0)))
}

func TestParseCandump_Errors(t *testing.T) {
	for _, line := range []string{
		"can0 123#00",
		"(abc) can0 123#00",
		"(1.0) can0 12300",
		"(1.0) can0 XYZ#00",
		"(1.0) can0 800#00",
		"(1.0) can0 123#0",
		"(1.0) can0 123#000102030405060708",
	} {
		_, err := ParseCandump(strings.NewReader(line))
		assert.Error(t, err, line)
	}
	_, err := ParseCandump(strings.NewReader("(1.0) can0 123#00\nbroken\n"))
	assert.ErrorContains(t, err, "line 2")
}

func TestReplay_Drive(t *testing.T) {
	frames := loadLog(t, "drive.log")
	require.Len(t, frames, 8)

	report, err := Replay(frames, Options{
		Variant:  subaru.Standard(),
		Outbound: map[string]int{"can1": subaru.BusMain},
	})
	require.NoError(t, err)

	assert.Equal(t, 8, report.Frames)
	assert.Equal(t, 3, report.Authentic)
	assert.Equal(t, 1, report.AuthFailures)
	assert.Equal(t, 4, report.Forwarded)
	assert.Equal(t, 3, report.TxAllowed)
	assert.Equal(t, 1, report.TxBlocked)
	assert.Equal(t, 80*time.Millisecond, report.Duration)

	violations := report.Violations()
	require.Len(t, violations, 1)
	assert.Equal(t, int64(400), violations[0].Value)
	assert.Equal(t, "rate_limit", violations[0].Reason)
	assert.Equal(t, uint32(80_000), violations[0].Timestamp)
	assert.False(t, report.Final.State.ControlsAllowed)

	var kinds []safety.EventKind
	for _, e := range report.Events {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []safety.EventKind{
		safety.EventInit, safety.EventEngaged, safety.EventAuthFailure,
		safety.EventViolation, safety.EventDisengaged,
	}, kinds)

	summary := report.Summary()
	assert.Contains(t, summary, "frames: 8 over 80ms")
	assert.Contains(t, summary, "transmit: 3 allowed, 1 blocked")
	assert.Contains(t, summary, "violation at 80000us: torque 400 (rate_limit)")
}

func TestReplay_TickDetectsGap(t *testing.T) {
	frames, err := ParseCandump(strings.NewReader(`
(100.000000) can0 240#4400000000020000
(101.000000) can2 123#01
`))
	require.NoError(t, err)

	report, err := Replay(frames, Options{Variant: subaru.Standard()})
	require.NoError(t, err)

	var lagging []safety.Event
	for _, e := range report.Events {
		if e.Kind == safety.EventLagging {
			lagging = append(lagging, e)
		}
	}
	require.Len(t, lagging, 1)
	assert.Equal(t, uint32(subaru.AddrCruiseControl), lagging[0].Addr)
	assert.Equal(t, uint32(510_000), lagging[0].Timestamp)
	assert.False(t, report.Final.State.ControlsAllowed)
}

func TestReplay_Errors(t *testing.T) {
	_, err := Replay(nil, Options{})
	assert.Error(t, err)

	report, err := Replay(nil, Options{Variant: nooutput.New()})
	require.NoError(t, err)
	assert.Equal(t, "nooutput", report.Final.Mode)

	frames, err := ParseCandump(strings.NewReader("(1.0) eth 123#00\n"))
	require.NoError(t, err)
	_, err = Replay(frames, Options{Variant: nooutput.New()})
	assert.ErrorContains(t, err, `"eth"`)

	report, err = Replay(frames, Options{Variant: nooutput.New(), Buses: map[string]int{"eth": 4}})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Authentic)

	frames, err = ParseCandump(strings.NewReader("(2.0) can0 123#00\n(1.0) can0 123#00\n"))
	require.NoError(t, err)
	_, err = Replay(frames, Options{Variant: nooutput.New()})
	assert.ErrorContains(t, err, "back in time")
}

func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario(path)
			require.NoError(t, err)
			trace, err := s.Run()
			require.NoError(t, err)
			g.Assert(t, name, []byte(trace))
		})
	}
}

func TestScenario_Errors(t *testing.T) {
	cases := map[string]Scenario{
		"unknown mode":   {Mode: "tesla"},
		"unsafe flag":    {Mode: "subaru", UnsafeMode: []string{"yolo"}},
		"empty step":     {Mode: "subaru", Steps: []Step{{}}},
		"bad data":       {Mode: "subaru", Steps: []Step{{Rx: &FrameSpec{ID: 0x240, Data: "zz"}}}},
		"unknown signal": {Mode: "subaru", Steps: []Step{{Rx: &FrameSpec{ID: 0x240, Signals: map[string]int64{"warp": 9}}}}},
		"no signals":     {Mode: "nooutput", Steps: []Step{{Tx: &FrameSpec{ID: 0x122, Signals: map[string]int64{"steer_torque": 1}}}}},
	}
	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := s.Run()
			assert.Error(t, err)
		})
	}
}

func loadLog(t *testing.T, name string) []LogFrame {
	t.Helper()
	f, err := os.Open(filepath.Join("testdata", name))
	require.NoError(t, err)
	defer f.Close()
	frames, err := ParseCandump(f)
	require.NoError(t, err)
	return frames
}
