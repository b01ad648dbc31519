package aegisstream

import (
	"github.com/ghalamif/AegisStream/internal/adapters/opcua"
	"github.com/ghalamif/AegisStream/internal/adapters/simulator"
	"github.com/ghalamif/AegisStream/internal/adapters/sink"
	"github.com/ghalamif/AegisStream/internal/adapters/subscriber"
	"github.com/ghalamif/AegisStream/internal/app/config"
	"github.com/ghalamif/AegisStream/internal/ports"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// SinkConfig selects the sink backend and its buffering policy.
	SinkConfig = sink.Config
	// NetworkConfig points the network sink at an InfluxDB-compatible /write endpoint.
	NetworkConfig = sink.NetworkConfig
	// FileConfig configures session-rotated local files.
	FileConfig = sink.FileConfig
	// RingConfig bounds the in-memory ring sink.
	RingConfig = sink.RingConfig
	// TimescaleConfig configures the Timescale/Postgres sink.
	TimescaleConfig = sink.TimescaleConfig
	// BufferPolicy controls sink batching thresholds.
	BufferPolicy = ports.BufferPolicy
	// BroadcastPolicy controls subscriber fan-out cadence.
	BroadcastPolicy = ports.BroadcastPolicy
	// ServerConfig configures the WebSocket/status HTTP server.
	ServerConfig = config.ServerConfig
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
	// ProducerConfig selects the built-in producer.
	ProducerConfig = config.ProducerConfig
	// RandomWalkConfig configures the simulated producer.
	RandomWalkConfig = simulator.RandomWalkConfig
	// OPCUAConfig holds connection + node details.
	OPCUAConfig = opcua.Config
	// OPCUANodeConfig describes a monitored tag.
	OPCUANodeConfig = opcua.NodeConfig
	// MQTTConfig configures the MQTT subscriber.
	MQTTConfig = subscriber.MQTTConfig
	// RedisConfig configures the Redis pub/sub subscriber.
	RedisConfig = subscriber.RedisConfig
	// LogConfig selects log level and format.
	LogConfig = config.LogConfig
	// ConfigurationError reports an invalid setting.
	ConfigurationError = config.ConfigurationError
)

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// ParseConfig decodes, defaults and validates a YAML document.
func ParseConfig(raw []byte) (*Config, error) {
	return config.Parse(raw)
}

// DefaultConfig runs the random-walk producer into the null sink.
func DefaultConfig() *Config {
	return config.Default()
}
