package influxdb

// Config holds InfluxDB connection configuration
type Config struct {
	URL      string `yaml:"url"`
	Token    string `yaml:"token"`
	Database string `yaml:"database"`
}
