package replay

import (
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"can-safety-gateway/internal/models"
	"can-safety-gateway/internal/modes"
	"can-safety-gateway/internal/safety"
)

// Sealer is implemented by variants that can write a valid counter and
// checksum into a frame.
type Sealer interface {
	Seal(f *models.CANFrame, counter uint8)
}

// SignalSource is implemented by variants that expose their signal
// descriptors by name.
type SignalSource interface {
	Signal(name string) (safety.Signal, bool)
}

// Scenario is a scripted sequence of engine hooks.
type Scenario struct {
	Name       string   `yaml:"name"`
	Mode       string   `yaml:"mode"`
	UnsafeMode []string `yaml:"unsafe_mode"`
	Steps      []Step   `yaml:"steps"`
}

// Step is one hook call at an absolute time. Exactly one of Rx, Tx, Tick and
// Init is set.
type Step struct {
	At   time.Duration `yaml:"at"`
	Rx   *FrameSpec    `yaml:"rx"`
	Tx   *FrameSpec    `yaml:"tx"`
	Tick bool          `yaml:"tick"`
	Init bool          `yaml:"init"`
}

// FrameSpec describes a frame. Signals are written over Data, then the frame
// is sealed with the next counter for its id unless Raw is set.
type FrameSpec struct {
	Bus     int              `yaml:"bus"`
	ID      uint32           `yaml:"id"`
	Len     *uint8           `yaml:"len"`
	Data    string           `yaml:"data"`
	Signals map[string]int64 `yaml:"signals"`
	Counter *uint8           `yaml:"counter"`
	Raw     bool             `yaml:"raw"`
}

// LoadScenario reads a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(path, ".yaml")
	}
	return &s, nil
}

// Run executes the scenario and returns its trace: one line per step, each
// followed by the events it raised, then the final state.
func (s *Scenario) Run() (string, error) {
	v, err := modes.Lookup(s.Mode)
	if err != nil {
		return "", err
	}
	unsafe, err := safety.ParseUnsafeMode(s.UnsafeMode)
	if err != nil {
		return "", err
	}

	var (
		b       strings.Builder
		pending []safety.Event
	)
	flush := func() {
		for _, e := range pending {
			fmt.Fprintf(&b, "  %s\n", describeEvent(e))
		}
		pending = pending[:0]
	}

	clock := safety.NewManualClock(0)
	engine := safety.New(v, clock,
		safety.WithUnsafeMode(unsafe),
		safety.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		safety.WithObserver(safety.ObserverFunc(func(e safety.Event) {
			pending = append(pending, e)
		})),
	)

	fmt.Fprintf(&b, "scenario: %s\n", s.Name)
	fmt.Fprintf(&b, "mode: %s unsafe: %s\n", v.Name(), unsafe)
	b.WriteString("t=0 start\n")
	flush()

	counters := map[uint32]uint8{}
	for i, step := range s.Steps {
		clock.Set(uint32(step.At.Microseconds()))
		t := step.At.Microseconds()

		switch {
		case step.Rx != nil:
			f, err := step.Rx.build(v, counters)
			if err != nil {
				return "", fmt.Errorf("step %d: %w", i, err)
			}
			verdict := "rejected"
			if engine.OnReceive(f) {
				verdict = "authentic"
			}
			fwd := "none"
			if target, ok := engine.OnForward(f.Bus, f); ok {
				fwd = fmt.Sprint(target)
			}
			fmt.Fprintf(&b, "t=%d rx %s %s fwd=%s\n", t, describeFrame(f), verdict, fwd)
		case step.Tx != nil:
			f, err := step.Tx.build(v, counters)
			if err != nil {
				return "", fmt.Errorf("step %d: %w", i, err)
			}
			verdict := "blocked"
			if engine.OnTransmitRequest(f) {
				verdict = "allowed"
			}
			fmt.Fprintf(&b, "t=%d tx %s %s\n", t, describeFrame(f), verdict)
		case step.Tick:
			engine.Tick()
			fmt.Fprintf(&b, "t=%d tick\n", t)
		case step.Init:
			engine.OnInit()
			fmt.Fprintf(&b, "t=%d init\n", t)
		default:
			return "", fmt.Errorf("step %d: no action", i)
		}
		flush()
	}

	st := engine.Snapshot().State
	fmt.Fprintf(&b, "final: controls_allowed=%t relay_malfunction=%t\n", st.ControlsAllowed, st.RelayMalfunction)
	return b.String(), nil
}

func (fs *FrameSpec) build(v safety.Variant, counters map[uint32]uint8) (models.CANFrame, error) {
	data, err := hex.DecodeString(fs.Data)
	if err != nil {
		return models.CANFrame{}, fmt.Errorf("frame 0x%X: invalid data: %w", fs.ID, err)
	}
	f := models.NewCANFrame(fs.ID, fs.Bus, data)
	f.DLC = 8
	if fs.Len != nil {
		if *fs.Len > 8 {
			return models.CANFrame{}, fmt.Errorf("frame 0x%X: len %d", fs.ID, *fs.Len)
		}
		f.DLC = *fs.Len
	}

	if len(fs.Signals) > 0 {
		src, ok := v.(SignalSource)
		if !ok {
			return models.CANFrame{}, fmt.Errorf("mode %s has no named signals", v.Name())
		}
		for name, value := range fs.Signals {
			sig, ok := src.Signal(name)
			if !ok {
				return models.CANFrame{}, fmt.Errorf("frame 0x%X: unknown signal %q", fs.ID, name)
			}
			sig.Put(&f, value)
		}
	}

	if fs.Raw {
		return f, nil
	}
	sealer, ok := v.(Sealer)
	if !ok {
		return f, nil
	}
	counter := counters[fs.ID]
	if fs.Counter != nil {
		counter = *fs.Counter
	}
	sealer.Seal(&f, counter)
	counters[fs.ID] = counter + 1
	return f, nil
}
