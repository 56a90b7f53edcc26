// Package config loads the gateway configuration from a YAML file, then
// applies KEY=VALUE overrides from an optional .env file.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"can-safety-gateway/internal/database/clickhouse"
	"can-safety-gateway/internal/database/influxdb"
	"can-safety-gateway/internal/modes"
	"can-safety-gateway/internal/safety"
)

// Config holds all application configuration
type Config struct {
	Mode       string   `yaml:"mode"`
	UnsafeMode []string `yaml:"unsafe_mode"`
	// RelayTimeout overrides the relay transition timeout when nonzero.
	RelayTimeout time.Duration `yaml:"relay_timeout"`

	Buses      []BusConfig       `yaml:"buses"`
	Controller *ControllerConfig `yaml:"controller"`

	TickInterval   time.Duration `yaml:"tick_interval"`
	SampleInterval time.Duration `yaml:"sample_interval"`
	StatsInterval  time.Duration `yaml:"stats_interval"`
	BatchSize      int           `yaml:"batch_size"`

	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Journal    JournalConfig    `yaml:"journal"`
	API        APIConfig        `yaml:"api"`
	Log        LogConfig        `yaml:"log"`
}

// BusConfig attaches a SocketCAN interface as a bus index.
type BusConfig struct {
	Index     int      `yaml:"index"`
	Interface string   `yaml:"interface"`
	Filters   []uint32 `yaml:"filters"`
}

// ControllerConfig is the link to the driving-assistance controller. Its
// frames are transmit requests for bus Target.
type ControllerConfig struct {
	Interface string `yaml:"interface"`
	Target    int    `yaml:"target"`
}

type ClickHouseConfig struct {
	Enabled           bool `yaml:"enabled"`
	clickhouse.Config `yaml:",inline"`
}

type InfluxDBConfig struct {
	Enabled         bool `yaml:"enabled"`
	influxdb.Config `yaml:",inline"`
}

type JournalConfig struct {
	// Path of the SQLite file. Empty disables the journal.
	Path string `yaml:"path"`
}

type APIConfig struct {
	// Port of the HTTP API. Zero disables it.
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads path (optional) and envFile (optional, missing is not an error),
// applies defaults and validates the result.
func Load(path, envFile string) (*Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if envFile != "" {
		if err := cfg.applyEnvFile(envFile); err != nil {
			return nil, err
		}
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = modes.Default
	}
	if len(c.Buses) == 0 {
		c.Buses = []BusConfig{{Index: 0, Interface: "vcan0"}, {Index: 2, Interface: "vcan2"}}
	}
	if c.TickInterval == 0 {
		c.TickInterval = 10 * time.Millisecond
	}
	if c.SampleInterval == 0 {
		c.SampleInterval = time.Second
	}
	if c.StatsInterval == 0 {
		c.StatsInterval = 10 * time.Second
	}
	if c.BatchSize == 0 {
		c.BatchSize = 1000
	}

	ch := &c.ClickHouse
	if ch.Host == "" {
		ch.Host = "localhost"
	}
	if ch.Port == 0 {
		ch.Port = 9000
	}
	if ch.Database == "" {
		ch.Database = "default"
	}
	if ch.Username == "" {
		ch.Username = "default"
	}
	if ch.FrameTable == "" {
		ch.FrameTable = "can_frames"
	}
	if ch.EventTable == "" {
		ch.EventTable = "safety_events"
	}
	if ch.StatsTable == "" {
		ch.StatsTable = "can_interface_stats"
	}

	if c.InfluxDB.URL == "" {
		c.InfluxDB.URL = "http://localhost:8181"
	}
	if c.InfluxDB.Database == "" {
		c.InfluxDB.Database = "can_safety"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) validate() error {
	if _, err := modes.Lookup(c.Mode); err != nil {
		return fmt.Errorf("mode: %w", err)
	}
	if _, err := c.Unsafe(); err != nil {
		return fmt.Errorf("unsafe_mode: %w", err)
	}
	if c.RelayTimeout < 0 || c.RelayTimeout > time.Hour {
		return fmt.Errorf("relay_timeout %s out of range", c.RelayTimeout)
	}

	seen := make(map[int]bool, len(c.Buses))
	for _, b := range c.Buses {
		if b.Interface == "" {
			return fmt.Errorf("buses: bus %d has no interface", b.Index)
		}
		if b.Index < 0 || b.Index > 255 {
			return fmt.Errorf("buses: index %d out of range", b.Index)
		}
		if seen[b.Index] {
			return fmt.Errorf("buses: index %d configured twice", b.Index)
		}
		seen[b.Index] = true
	}
	if ctl := c.Controller; ctl != nil {
		if ctl.Interface == "" {
			return errors.New("controller.interface is required")
		}
		if !seen[ctl.Target] {
			return fmt.Errorf("controller.target %d is not a configured bus", ctl.Target)
		}
	}

	if c.TickInterval < 0 || c.SampleInterval < 0 || c.StatsInterval < 0 {
		return errors.New("intervals must be positive")
	}
	if c.BatchSize < 0 {
		return errors.New("batch_size must be positive")
	}
	if c.InfluxDB.Enabled && c.InfluxDB.Token == "" {
		return errors.New("influxdb.token is required when influxdb is enabled")
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q must be text or json", c.Log.Format)
	}
	return nil
}

// Unsafe returns the configured unsafe-mode bitmask.
func (c *Config) Unsafe() (safety.UnsafeMode, error) {
	return safety.ParseUnsafeMode(c.UnsafeMode)
}

// RelayTimeoutMicros returns RelayTimeout in engine clock units.
func (c *Config) RelayTimeoutMicros() uint32 {
	return uint32(c.RelayTimeout.Microseconds())
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// applyEnvFile applies overrides from a .env file. A missing file is ignored.
func (c *Config) applyEnvFile(envFile string) error {
	file, err := os.Open(envFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("error opening .env file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		if err := c.set(key, value); err != nil {
			return fmt.Errorf("%s:%d: %s: %w", envFile, lineNo, key, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading .env file: %w", err)
	}
	return nil
}

func (c *Config) set(key, value string) error {
	var err error
	switch key {
	case "SAFETY_MODE":
		c.Mode = value
	case "UNSAFE_MODE":
		c.UnsafeMode = splitList(value, "|")
	case "CAN_BUSES":
		c.Buses, err = parseBuses(value)
	case "CONTROLLER_INTERFACE":
		if c.Controller == nil {
			c.Controller = &ControllerConfig{}
		}
		c.Controller.Interface = value
	case "STATS_INTERVAL":
		var secs int
		secs, err = strconv.Atoi(value)
		c.StatsInterval = time.Duration(secs) * time.Second
	case "BATCH_SIZE":
		c.BatchSize, err = strconv.Atoi(value)
	case "CLICKHOUSE_ENABLED":
		c.ClickHouse.Enabled, err = strconv.ParseBool(value)
	case "CLICKHOUSE_HOST":
		c.ClickHouse.Host = value
	case "CLICKHOUSE_PORT":
		c.ClickHouse.Port, err = strconv.Atoi(value)
	case "CLICKHOUSE_DATABASE":
		c.ClickHouse.Database = value
	case "CLICKHOUSE_USERNAME":
		c.ClickHouse.Username = value
	case "CLICKHOUSE_PASSWORD":
		c.ClickHouse.Password = value
	case "INFLUXDB_ENABLED":
		c.InfluxDB.Enabled, err = strconv.ParseBool(value)
	case "INFLUXDB_URL":
		c.InfluxDB.URL = value
	case "INFLUXDB_TOKEN":
		c.InfluxDB.Token = value
	case "INFLUXDB_DATABASE":
		c.InfluxDB.Database = value
	case "JOURNAL_PATH":
		c.Journal.Path = value
	case "API_PORT":
		c.API.Port, err = strconv.Atoi(value)
	case "LOG_LEVEL":
		c.Log.Level = value
	case "LOG_FORMAT":
		c.Log.Format = value
	}
	return err
}

// parseBuses parses "0:can0,2:can1".
func parseBuses(s string) ([]BusConfig, error) {
	var buses []BusConfig
	for _, part := range splitList(s, ",") {
		idx, iface, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("expected index:interface, got %q", part)
		}
		n, err := strconv.Atoi(strings.TrimSpace(idx))
		if err != nil {
			return nil, fmt.Errorf("bus index %q: %w", idx, err)
		}
		buses = append(buses, BusConfig{Index: n, Interface: strings.TrimSpace(iface)})
	}
	return buses, nil
}

func splitList(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
