package clickhouse

// Config holds ClickHouse connection configuration
type Config struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Database   string `yaml:"database"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	FrameTable string `yaml:"frame_table"`
	EventTable string `yaml:"event_table"`
	StatsTable string `yaml:"stats_table"`
}
