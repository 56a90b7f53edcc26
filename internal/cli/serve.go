package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"can-safety-gateway/internal/api"
	"can-safety-gateway/internal/journal"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Port int
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the history API without attaching any bus",
		Long: `Serve recorded frames, safety events, interface statistics, telemetry and
the journal from the configured stores. No bus is opened, so the control
and live stream routes are absent.

Examples:
  safety-gateway serve --config gateway.yaml
  safety-gateway serve --port 8090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Port, "port", 0, "HTTP port (default: api.port from the config)")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Port != 0 {
		cfg.API.Port = opts.Port
	}
	if cfg.API.Port == 0 {
		return NewExitError(ExitCommandError, "no api port configured")
	}
	logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log)
	if err != nil {
		return err
	}

	var c closers
	defer c.close(logger)

	st, err := openStores(ctx, cfg, &c, logger)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to open stores", err)
	}
	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to open journal", err)
		}
		c.add(j.Close)
		st.journal = j
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	server := api.NewServer(api.ServerConfig{
		Port:           cfg.API.Port,
		AllowedOrigins: cfg.API.AllowedOrigins,
		History:        st.history,
		Telemetry:      st.telemetry,
		Journal:        st.journal,
		Gatherer:       reg,
		Logger:         logger,
	})

	g, ctx := errgroup.WithContext(ctx)
	serveUntilDone(ctx, g, server, logger)
	logger.Info("api listening", "port", cfg.API.Port)
	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "server failed", err)
	}
	return nil
}
