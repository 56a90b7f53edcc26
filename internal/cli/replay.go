package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"can-safety-gateway/internal/modes"
	"can-safety-gateway/internal/replay"
	"can-safety-gateway/internal/safety"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Mode         string
	UnsafeMode   []string
	Buses        map[string]int
	Outbound     map[string]int
	TickInterval time.Duration
	Scenario     string
	Golden       string
	JSON         bool
}

// ReplayResult is the JSON form of a log replay.
type ReplayResult struct {
	Mode             string         `json:"mode"`
	Frames           int            `json:"frames"`
	DurationSeconds  float64        `json:"duration_seconds"`
	Authentic        int            `json:"authentic"`
	AuthFailures     int            `json:"auth_failures"`
	Forwarded        int            `json:"forwarded"`
	TxAllowed        int            `json:"tx_allowed"`
	TxBlocked        int            `json:"tx_blocked"`
	Violations       []safety.Event `json:"violations"`
	ControlsAllowed  bool           `json:"controls_allowed"`
	RelayMalfunction bool           `json:"relay_malfunction"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay [candump.log]",
		Short: "Replay a recorded drive or a scenario through the safety engine",
		Long: `Replay a candump log (candump -l format) through a fresh engine on the log's
own clock, or run a YAML scenario and print its trace.

Frames from interfaces named with --outbound are checked as controller
transmit requests. All other frames are received, authenticated and
offered for forwarding.

Exit codes:
  0 - No violations, or the scenario trace matches --golden
  1 - Violations found, or the trace differs from --golden
  2 - Command error (unreadable log, unknown mode, etc.)

Examples:
  safety-gateway replay drive.log --mode subaru --outbound can1=0
  safety-gateway replay drive.log --mode subaru-hybrid --json
  safety-gateway replay --scenario engage.yaml --golden engage.golden`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Scenario != "" {
				if len(args) > 0 {
					return NewExitError(ExitCommandError, "a log file and --scenario are mutually exclusive")
				}
				return runScenario(opts, cmd)
			}
			if len(args) != 1 {
				return NewExitError(ExitCommandError, "a candump log file or --scenario is required")
			}
			return runReplay(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Mode, "mode", "subaru", "safety mode")
	cmd.Flags().StringSliceVar(&opts.UnsafeMode, "unsafe", nil, "unsafe mode flags")
	cmd.Flags().StringToIntVar(&opts.Buses, "bus", nil, "interface to bus index, e.g. can0=0 (default: trailing digits)")
	cmd.Flags().StringToIntVar(&opts.Outbound, "outbound", nil, "controller interface to target bus, e.g. can1=0")
	cmd.Flags().DurationVar(&opts.TickInterval, "tick", 10*time.Millisecond, "liveness check period on the log clock")
	cmd.Flags().StringVar(&opts.Scenario, "scenario", "", "run a YAML scenario instead of a log")
	cmd.Flags().StringVar(&opts.Golden, "golden", "", "compare the scenario trace with this file")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print the report as JSON")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command, path string) error {
	variant, err := modes.Lookup(opts.Mode)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid mode", err)
	}
	unsafe, err := safety.ParseUnsafeMode(opts.UnsafeMode)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid unsafe mode", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open log", err)
	}
	defer f.Close()
	frames, err := replay.ParseCandump(f)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to parse log", err)
	}

	logger, err := newLogger(cmd.ErrOrStderr(), logConfig(opts.RootOptions, "warn"))
	if err != nil {
		return err
	}
	report, err := replay.Replay(frames, replay.Options{
		Variant:      variant,
		UnsafeMode:   unsafe,
		Buses:        opts.Buses,
		Outbound:     opts.Outbound,
		TickInterval: opts.TickInterval,
		Logger:       logger,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "replay failed", err)
	}

	out := cmd.OutOrStdout()
	violations := report.Violations()
	if opts.JSON {
		err = writeJSON(out, ReplayResult{
			Mode:             opts.Mode,
			Frames:           report.Frames,
			DurationSeconds:  report.Duration.Seconds(),
			Authentic:        report.Authentic,
			AuthFailures:     report.AuthFailures,
			Forwarded:        report.Forwarded,
			TxAllowed:        report.TxAllowed,
			TxBlocked:        report.TxBlocked,
			Violations:       violations,
			ControlsAllowed:  report.Final.State.ControlsAllowed,
			RelayMalfunction: report.Final.State.RelayMalfunction,
		})
	} else {
		_, err = fmt.Fprint(out, report.Summary())
	}
	if err != nil {
		return err
	}

	if len(violations) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d violations", len(violations)))
	}
	return nil
}

func runScenario(opts *ReplayOptions, cmd *cobra.Command) error {
	s, err := replay.LoadScenario(opts.Scenario)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}
	trace, err := s.Run()
	if err != nil {
		return WrapExitError(ExitCommandError, "scenario failed", err)
	}
	if _, err := fmt.Fprint(cmd.OutOrStdout(), trace); err != nil {
		return err
	}

	if opts.Golden == "" {
		return nil
	}
	want, err := os.ReadFile(opts.Golden)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read golden trace", err)
	}
	if string(want) != trace {
		return NewExitError(ExitFailure, fmt.Sprintf("trace differs from %s", opts.Golden))
	}
	return nil
}
