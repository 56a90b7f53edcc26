package can

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"can-safety-gateway/internal/models"
)

var (
	flagsRe       = regexp.MustCompile(`<([^>]+)>`)
	bitrateRe     = regexp.MustCompile(`bitrate (\d+)`)
	samplePointRe = regexp.MustCompile(`sample-point ([\d.]+)`)
	busStateRe    = regexp.MustCompile(`can (?:<[^>]*> )?state ([A-Z-]+)`)
	berrRe        = regexp.MustCompile(`berr-counter tx (\d+) rx (\d+)`)
	restartsRe    = regexp.MustCompile(`re-started\s+bus-errors.*`)
)

// CommandRunner runs an external command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// StatsCollector periodically samples SocketCAN interface statistics.
type StatsCollector struct {
	ifname   string
	bus      int
	interval time.Duration
	run      CommandRunner
	logger   *slog.Logger
}

// NewStatsCollector creates a collector for ifname, reported as bus.
func NewStatsCollector(ifname string, bus int, interval time.Duration, logger *slog.Logger) *StatsCollector {
	return &StatsCollector{
		ifname:   ifname,
		bus:      bus,
		interval: interval,
		run:      execRunner,
		logger:   logger.With("interface", ifname),
	}
}

// WithRunner replaces the command runner, for tests.
func (sc *StatsCollector) WithRunner(run CommandRunner) *StatsCollector {
	sc.run = run
	return sc
}

// Run samples immediately and then every interval until ctx is done.
func (sc *StatsCollector) Run(ctx context.Context, sink func(models.SocketCANStats)) {
	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	sc.collect(ctx, sink)
	for {
		select {
		case <-ticker.C:
			sc.collect(ctx, sink)
		case <-ctx.Done():
			return
		}
	}
}

func (sc *StatsCollector) collect(ctx context.Context, sink func(models.SocketCANStats)) {
	stats, err := sc.Collect(ctx)
	if err != nil {
		sc.logger.Warn("failed to collect interface stats", "error", err)
		return
	}
	sink(stats)
}

// Collect takes one sample.
func (sc *StatsCollector) Collect(ctx context.Context) (models.SocketCANStats, error) {
	output, err := sc.run(ctx, "ip", "-details", "-statistics", "link", "show", sc.ifname)
	if err != nil {
		return models.SocketCANStats{}, fmt.Errorf("failed to execute ip command: %w (output: %s)", err, string(output))
	}
	stats := ParseIPOutput(string(output))
	stats.Timestamp = time.Now().UTC()
	stats.Interface = sc.ifname
	stats.Bus = sc.bus
	return stats, nil
}

// ParseIPOutput parses the text output of `ip -details -statistics link show`.
func ParseIPOutput(output string) models.SocketCANStats {
	var stats models.SocketCANStats
	lines := strings.Split(output, "\n")

	for i, raw := range lines {
		line := strings.TrimSpace(raw)

		if i == 0 {
			// 3: can0: <NOARP,UP,LOWER_UP,ECHO> mtu 16 qdisc pfifo_fast state UP ...
			stats.State = "DOWN"
			if m := flagsRe.FindStringSubmatch(line); len(m) > 1 {
				for _, flag := range strings.Split(m[1], ",") {
					if flag == "UP" {
						stats.State = "UP"
					}
				}
			}
			continue
		}

		if strings.HasPrefix(line, "can ") {
			// can state ERROR-ACTIVE (berr-counter tx 0 rx 0) restart-ms 0
			if m := busStateRe.FindStringSubmatch(line); len(m) > 1 {
				stats.BusState = m[1]
			}
			if m := berrRe.FindStringSubmatch(line); len(m) > 2 {
				stats.TXErrorCounter, _ = strconv.Atoi(m[1])
				stats.RXErrorCounter, _ = strconv.Atoi(m[2])
			}
		}

		if strings.HasPrefix(line, "bitrate") {
			// bitrate 500000 sample-point 0.875
			if m := bitrateRe.FindStringSubmatch(line); len(m) > 1 {
				stats.Bitrate, _ = strconv.Atoi(m[1])
			}
			if m := samplePointRe.FindStringSubmatch(line); len(m) > 1 {
				sp, _ := strconv.ParseFloat(m[1], 64)
				stats.SamplePoint = fmt.Sprintf("%.1f%%", sp*100)
			}
		}

		next := func() []string {
			if i+1 < len(lines) {
				return strings.Fields(lines[i+1])
			}
			return nil
		}

		switch {
		case restartsRe.MatchString(line):
			// re-started bus-errors arbit-lost error-warn error-pass bus-off
			// 0          0          0          0          0          0
			if f := next(); len(f) >= 6 {
				stats.BusOffRestarts, _ = strconv.ParseUint(f[0], 10, 64)
				stats.ErrorWarning, _ = strconv.ParseUint(f[3], 10, 64)
				stats.ErrorPassive, _ = strconv.ParseUint(f[4], 10, 64)
				stats.BusOff, _ = strconv.ParseUint(f[5], 10, 64)
			}
		case strings.HasPrefix(line, "RX:"):
			// RX: bytes  packets  errors  dropped ...
			if f := next(); len(f) >= 4 {
				stats.RXPackets, _ = strconv.ParseUint(f[1], 10, 64)
				stats.RXErrors, _ = strconv.ParseUint(f[2], 10, 64)
				stats.RXDropped, _ = strconv.ParseUint(f[3], 10, 64)
			}
		case strings.HasPrefix(line, "TX:"):
			if f := next(); len(f) >= 4 {
				stats.TXPackets, _ = strconv.ParseUint(f[1], 10, 64)
				stats.TXErrors, _ = strconv.ParseUint(f[2], 10, 64)
				stats.TXDropped, _ = strconv.ParseUint(f[3], 10, 64)
			}
		}
	}
	return stats
}
