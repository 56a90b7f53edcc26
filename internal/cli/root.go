// Package cli implements the safety-gateway command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"can-safety-gateway/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Config    string
	EnvFile   string
	LogLevel  string // overrides log.level from the config
	LogFormat string // "text" | "json", overrides log.format
}

// ValidLogFormats defines the allowed log formats.
var ValidLogFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "safety-gateway",
		Short: "In-line CAN safety gateway",
		Long: `Validates every frame between the vehicle buses and a driving-assistance
controller, relays traffic between bus segments, and refuses any steering
command outside the active rule set.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.LogFormat != "" && !slices.Contains(ValidLogFormats, opts.LogFormat) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid log format %q: must be one of %v", opts.LogFormat, ValidLogFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "path to YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env", ".env", "path to .env overrides (ignored when missing)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format (text|json)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewModesCommand(opts))

	return cmd
}

// loadConfig loads the configuration and applies the log flag overrides.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.Config, o.EnvFile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.Log.Format = o.LogFormat
	}
	return cfg, nil
}

// newLogger builds the process logger.
func newLogger(w io.Writer, lc config.LogConfig) (*slog.Logger, error) {
	level, err := lc.SlogLevel()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid log level", err)
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
}

// logConfig returns the log settings from the flags alone, for commands that
// do not load the configuration file.
func logConfig(o *RootOptions, level string) config.LogConfig {
	lc := config.LogConfig{Level: level, Format: "text"}
	if o.LogLevel != "" {
		lc.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		lc.Format = o.LogFormat
	}
	return lc
}
