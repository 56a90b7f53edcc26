package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"can-safety-gateway/internal/api"
	"can-safety-gateway/internal/can"
	"can-safety-gateway/internal/config"
	"can-safety-gateway/internal/database/clickhouse"
	"can-safety-gateway/internal/database/influxdb"
	"can-safety-gateway/internal/gateway"
	"can-safety-gateway/internal/journal"
	"can-safety-gateway/internal/metrics"
	"can-safety-gateway/internal/models"
	"can-safety-gateway/internal/modes"
	"can-safety-gateway/internal/safety"
)

const shutdownTimeout = 10 * time.Second

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the gateway on the configured buses",
		Long: `Attach the configured SocketCAN interfaces, run the safety engine between
them and serve the HTTP API until interrupted.

Examples:
  safety-gateway run --config gateway.yaml
  safety-gateway run --env /etc/safety-gateway.env --log-format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runGateway(ctx, opts, cmd)
		},
	}

	return cmd
}

// closers releases resources in reverse order of acquisition.
type closers []func() error

func (c *closers) add(fn func() error) { *c = append(*c, fn) }

func (c closers) close(logger *slog.Logger) {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			logger.Warn("shutdown", "error", err)
		}
	}
}

// stores holds the optional persistence backends.
type stores struct {
	history   api.History
	telemetry api.Telemetry
	journal   api.Journal

	frames  []gateway.FrameSink
	events  []gateway.EventSink
	samples []gateway.SampleSink
	stats   func(models.SocketCANStats)
}

// openStores connects every enabled backend. Writers are started; their
// Close is registered on c.
func openStores(ctx context.Context, cfg *config.Config, c *closers, logger *slog.Logger) (*stores, error) {
	st := &stores{}

	if cfg.ClickHouse.Enabled {
		conn, err := clickhouse.Open(ctx, cfg.ClickHouse.Config)
		if err != nil {
			return nil, err
		}
		c.add(conn.Close)

		fw := clickhouse.NewFrameWriter(conn, cfg.ClickHouse.FrameTable, cfg.BatchSize, logger)
		ew := clickhouse.NewEventWriter(conn, cfg.ClickHouse.EventTable, cfg.BatchSize, logger)
		sw := clickhouse.NewStatsWriter(conn, cfg.ClickHouse.StatsTable, cfg.BatchSize, logger)
		for _, w := range []interface {
			Start()
			Close() error
		}{fw, ew, sw} {
			w.Start()
			c.add(w.Close)
		}
		st.frames = append(st.frames, fw)
		st.events = append(st.events, ew)
		st.stats = sw.Write
		st.history = clickhouse.NewHistory(conn, cfg.ClickHouse.Config)
		logger.Info("clickhouse connected", "host", cfg.ClickHouse.Host, "database", cfg.ClickHouse.Database)
	}

	if cfg.InfluxDB.Enabled {
		sw, err := influxdb.New(cfg.InfluxDB.Config, cfg.BatchSize, logger)
		if err != nil {
			return nil, err
		}
		sw.Start()
		c.add(sw.Close)
		st.samples = append(st.samples, sw)
		st.telemetry = sw
		logger.Info("influxdb enabled", "url", cfg.InfluxDB.URL, "database", cfg.InfluxDB.Database)
	}

	return st, nil
}

// startSession opens the journal when configured and returns the boot
// session id.
func startSession(ctx context.Context, cfg *config.Config, unsafe safety.UnsafeMode, st *stores, c *closers, logger *slog.Logger) (string, error) {
	if cfg.Journal.Path == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return "", fmt.Errorf("generate session id: %w", err)
		}
		return id.String(), nil
	}

	j, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return "", err
	}
	c.add(j.Close)
	session, err := j.StartSession(ctx, cfg.Mode, uint16(unsafe), time.Now())
	if err != nil {
		return "", err
	}
	w := j.NewWriter(cfg.BatchSize, logger)
	w.Start()
	c.add(w.Close)
	st.events = append(st.events, w)
	st.journal = j
	logger.Info("journal opened", "path", cfg.Journal.Path)
	return session.ID, nil
}

// openPorts attaches every configured interface.
func openPorts(cfg *config.Config, c *closers, logger *slog.Logger) ([]gateway.Port, *gateway.Port, error) {
	open := func(iface string, index int, filters []uint32) (gateway.Port, error) {
		sb, err := can.NewSocketBus(iface, index, logger)
		if err != nil {
			return gateway.Port{}, err
		}
		c.add(sb.Close)
		if len(filters) > 0 {
			if err := sb.SetFilter(filters); err != nil {
				return gateway.Port{}, fmt.Errorf("filter %s: %w", iface, err)
			}
		}
		return gateway.Port{
			Index: index,
			Name:  iface,
			Bus:   can.NewLoggedBus(sb, logger.With("interface", iface), slog.LevelDebug, can.LogAll),
		}, nil
	}

	ports := make([]gateway.Port, 0, len(cfg.Buses))
	for _, b := range cfg.Buses {
		p, err := open(b.Interface, b.Index, b.Filters)
		if err != nil {
			return nil, nil, err
		}
		ports = append(ports, p)
	}

	if cfg.Controller == nil {
		return ports, nil, nil
	}
	ctl, err := open(cfg.Controller.Interface, -1, nil)
	if err != nil {
		return nil, nil, err
	}
	return ports, &ctl, nil
}

func runGateway(ctx context.Context, opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log)
	if err != nil {
		return err
	}
	variant, err := modes.Lookup(cfg.Mode)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid mode", err)
	}
	unsafe, err := cfg.Unsafe()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid unsafe mode", err)
	}

	var c closers
	defer c.close(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	st, err := openStores(ctx, cfg, &c, logger)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to open stores", err)
	}
	session, err := startSession(ctx, cfg, unsafe, st, &c, logger)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to start session", err)
	}

	ports, controller, err := openPorts(cfg, &c, logger)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to open buses", err)
	}
	controllerTarget := 0
	if cfg.Controller != nil {
		controllerTarget = cfg.Controller.Target
	}

	gw, err := gateway.New(gateway.Config{
		Variant:          variant,
		Clock:            safety.NewMonotonicClock(),
		UnsafeMode:       unsafe,
		RelayTimeout:     cfg.RelayTimeoutMicros(),
		Session:          session,
		Ports:            ports,
		Controller:       controller,
		ControllerTarget: controllerTarget,
		TickInterval:     cfg.TickInterval,
		SampleInterval:   cfg.SampleInterval,
		Logger:           logger,
		Metrics:          m,
		FrameSinks:       st.frames,
		EventSinks:       st.events,
		SampleSinks:      st.samples,
	})
	if err != nil {
		return WrapExitError(ExitFailure, "failed to create gateway", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return gw.Run(ctx) })

	for _, b := range cfg.Buses {
		sc := can.NewStatsCollector(b.Interface, b.Index, cfg.StatsInterval, logger)
		g.Go(func() error {
			sc.Run(ctx, func(s models.SocketCANStats) {
				m.SetBusStats(s)
				if st.stats != nil {
					st.stats(s)
				}
			})
			return nil
		})
	}

	if cfg.API.Port != 0 {
		server := api.NewServer(api.ServerConfig{
			Port:           cfg.API.Port,
			AllowedOrigins: cfg.API.AllowedOrigins,
			Gateway:        gw,
			History:        st.history,
			Telemetry:      st.telemetry,
			Journal:        st.journal,
			Gatherer:       reg,
			Logger:         logger,
		})
		serveUntilDone(ctx, g, server, logger)
		logger.Info("api listening", "port", cfg.API.Port)
	}

	logger.Info("gateway started", "session", session, "mode", cfg.Mode, "unsafe_mode", unsafe.String())
	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "gateway failed", err)
	}
	return nil
}

// serveUntilDone runs server in g and shuts it down when ctx is done.
func serveUntilDone(ctx context.Context, g *errgroup.Group, server *api.Server, logger *slog.Logger) {
	g.Go(server.Start)
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Stop(shutdownCtx)
	})
}
