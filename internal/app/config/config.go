package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ghalamif/AegisStream/internal/adapters/opcua"
	"github.com/ghalamif/AegisStream/internal/adapters/simulator"
	"github.com/ghalamif/AegisStream/internal/adapters/sink"
	"github.com/ghalamif/AegisStream/internal/adapters/subscriber"
	"github.com/ghalamif/AegisStream/internal/ports"
)

// Producer kinds.
const (
	ProducerRandomWalk = "randomwalk"
	ProducerOPCUA      = "opcua"
	ProducerNone       = "none"
)

type Config struct {
	Sink      sink.Config            `yaml:"sink"`
	Broadcast ports.BroadcastPolicy  `yaml:"broadcast"`
	Server    ServerConfig           `yaml:"server"`
	Metrics   MetricsConfig          `yaml:"metrics"`
	Producer  ProducerConfig         `yaml:"producer"`
	MQTT      subscriber.MQTTConfig  `yaml:"mqtt"`
	Redis     subscriber.RedisConfig `yaml:"redis"`
	Log       LogConfig              `yaml:"log"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	Path           string   `yaml:"path"`
	OriginPatterns []string `yaml:"origin_patterns"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type ProducerConfig struct {
	Kind       string                     `yaml:"kind"`
	RandomWalk simulator.RandomWalkConfig `yaml:"randomwalk"`
	OPCUA      opcua.Config               `yaml:"opcua"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ConfigurationError reports one invalid or missing setting.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string { return e.Field + ": " + e.Err.Error() }

func (e *ConfigurationError) Unwrap() error { return e.Err }

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML, rejecting unknown keys, then applies defaults and
// validates.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration that runs the random-walk producer into
// the null sink.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	return &cfg
}

func (c *Config) ApplyDefaults() {
	c.Sink.Backend = strings.ToLower(strings.TrimSpace(c.Sink.Backend))
	if c.Sink.Backend == "" {
		c.Sink.Backend = sink.BackendNull
	}
	if c.Sink.MaxBytes == 0 {
		c.Sink.MaxBytes = sink.DefaultMaxBytes
	}
	if c.Sink.MaxLines == 0 {
		c.Sink.MaxLines = sink.DefaultMaxLines
	}
	if c.Sink.FlushInterval == 0 {
		c.Sink.FlushInterval = time.Second
	}
	if c.Sink.FlushTimeout == 0 {
		c.Sink.FlushTimeout = sink.DefaultFlushTimeout
	}
	if c.Sink.AsyncQueue == 0 {
		c.Sink.AsyncQueue = sink.DefaultAsyncQueue
	}
	if c.Sink.Network.Timeout == 0 {
		c.Sink.Network.Timeout = sink.DefaultNetworkTimeout
	}
	if c.Sink.File.Session == 0 {
		c.Sink.File.Session = sink.DefaultSession
	}
	if c.Sink.Ring.Capacity == 0 {
		c.Sink.Ring.Capacity = sink.DefaultRingCapacity
	}
	if c.Sink.Timescale.Table == "" {
		c.Sink.Timescale.Table = sink.DefaultTimescaleTable
	}

	if c.Broadcast.Interval == 0 {
		c.Broadcast.Interval = 100 * time.Millisecond
	}
	if c.Broadcast.SendTimeout == 0 {
		c.Broadcast.SendTimeout = 2 * time.Second
	}
	if c.Broadcast.QueueLen == 0 {
		c.Broadcast.QueueLen = 4096
	}

	if c.Server.Addr == "" {
		c.Server.Addr = ":8181"
	}
	if c.Server.Path == "" {
		c.Server.Path = "/stream"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}

	c.Producer.Kind = strings.ToLower(strings.TrimSpace(c.Producer.Kind))
	if c.Producer.Kind == "" {
		c.Producer.Kind = ProducerRandomWalk
	}
	switch c.Producer.Kind {
	case ProducerRandomWalk:
		c.Producer.RandomWalk.ApplyDefaults()
	case ProducerOPCUA:
		c.Producer.OPCUA.ApplyDefaults()
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate reports every problem at once, joined.
func (c *Config) Validate() error {
	var errs []error
	add := func(field string, err error) {
		errs = append(errs, &ConfigurationError{Field: field, Err: err})
	}

	switch c.Sink.Backend {
	case sink.BackendNull, sink.BackendRing:
	case sink.BackendNetwork:
		if strings.TrimSpace(c.Sink.Network.URL) == "" {
			add("sink.network.url", ports.ErrMissingDestination)
		}
	case sink.BackendFile:
		if strings.TrimSpace(c.Sink.File.Dir) == "" {
			add("sink.file.dir", ports.ErrMissingDestination)
		}
	case sink.BackendTimescale:
		if strings.TrimSpace(c.Sink.Timescale.ConnString) == "" {
			add("sink.timescale.conn_string", ports.ErrMissingDestination)
		}
	default:
		add("sink.backend", fmt.Errorf("unknown backend %q", c.Sink.Backend))
	}
	if c.Sink.MaxBytes < 0 {
		add("sink.max_bytes", errors.New("must be >= 0"))
	}
	if c.Sink.MaxLines < 0 {
		add("sink.max_lines", errors.New("must be >= 0"))
	}
	if c.Sink.Ring.Capacity < 0 {
		add("sink.ring.capacity", errors.New("must be >= 0"))
	}

	if c.Broadcast.Interval < 0 {
		add("broadcast.interval", errors.New("must be > 0"))
	}
	if c.Broadcast.QueueLen < 0 {
		add("broadcast.queue_len", errors.New("must be > 0"))
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		add("server.path", fmt.Errorf("must start with /, got %q", c.Server.Path))
	}

	switch c.Producer.Kind {
	case ProducerNone:
	case ProducerRandomWalk:
		if err := c.Producer.RandomWalk.Validate(); err != nil {
			add("producer.randomwalk", err)
		}
	case ProducerOPCUA:
		if err := c.Producer.OPCUA.Validate(); err != nil {
			add("producer.opcua", err)
		}
	default:
		add("producer.kind", fmt.Errorf("unknown producer %q", c.Producer.Kind))
	}

	if c.MQTT.QoS > 2 {
		add("mqtt.qos", fmt.Errorf("must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		add("log.level", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		add("log.format", fmt.Errorf("unknown format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

func (l LogConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, err
	}
	return lvl, nil
}

// NewLogger builds the process logger described by the log section.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	lvl, err := l.SlogLevel()
	if err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
