package aegisstream

import (
	"github.com/prometheus/client_golang/prometheus"

	base "github.com/ghalamif/AegisStream/pkg/aegisstream"
)

// Re-exported errors for convenience.
var (
	ErrSubscriberClosed   = base.ErrSubscriberClosed
	ErrMissingDestination = base.ErrMissingDestination
	ErrPublisherClosed    = base.ErrPublisherClosed
)

// Type aliases so consumers can import github.com/ghalamif/AegisStream directly.
type (
	Config             = base.Config
	SinkConfig         = base.SinkConfig
	NetworkConfig      = base.NetworkConfig
	FileConfig         = base.FileConfig
	RingConfig         = base.RingConfig
	TimescaleConfig    = base.TimescaleConfig
	BufferPolicy       = base.BufferPolicy
	BroadcastPolicy    = base.BroadcastPolicy
	ServerConfig       = base.ServerConfig
	MetricsConfig      = base.MetricsConfig
	ProducerConfig     = base.ProducerConfig
	RandomWalkConfig   = base.RandomWalkConfig
	OPCUAConfig        = base.OPCUAConfig
	OPCUANodeConfig    = base.OPCUANodeConfig
	MQTTConfig         = base.MQTTConfig
	RedisConfig        = base.RedisConfig
	LogConfig          = base.LogConfig
	ConfigurationError = base.ConfigurationError
	Flow               = base.Flow
	FlowOption         = base.FlowOption
	StreamInOption     = base.StreamInOption
	StreamOutOption    = base.StreamOutOption
	Runtime            = base.Runtime
	RuntimeOption      = base.RuntimeOption
	Status             = base.Status
	Sample             = base.Sample
	PipelineSample     = base.PipelineSample
	Event              = base.Event
	EventHandler       = base.EventHandler
	Collector          = base.Collector
	Transformer        = base.Transformer
	Sink               = base.Sink
	Backend            = base.Backend
	SinkStats          = base.SinkStats
	SinkDiagnostics    = base.SinkDiagnostics
	Subscriber         = base.Subscriber
	BroadcastStats     = base.BroadcastStats
	Observability      = base.Observability
	Field              = base.Field
	Publisher          = base.Publisher
	PublisherConfig    = base.PublisherConfig
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func ParseConfig(raw []byte) (*Config, error) {
	return base.ParseConfig(raw)
}

func DefaultConfig() *Config {
	return base.DefaultConfig()
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return base.WithFlowOptions(opts...)
}

func StreamInCollector(col Collector) StreamInOption {
	return base.StreamInCollector(col)
}

func StreamInTransformer(tr Transformer) StreamInOption {
	return base.StreamInTransformer(tr)
}

func StreamInObservability(obs Observability) StreamInOption {
	return base.StreamInObservability(obs)
}

func StreamOutSink(s Sink) StreamOutOption {
	return base.StreamOutSink(s)
}

func StreamOutBackend(b Backend) StreamOutOption {
	return base.StreamOutBackend(b)
}

func StreamOutSubscriber(subs ...Subscriber) StreamOutOption {
	return base.StreamOutSubscriber(subs...)
}

func StreamOutCallback(name string, fn EventHandler) StreamOutOption {
	return base.StreamOutCallback(name, fn)
}

// Runtime and options.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func WithCollector(col Collector) RuntimeOption {
	return base.WithCollector(col)
}

func WithSink(s Sink) RuntimeOption {
	return base.WithSink(s)
}

func WithBackend(b Backend) RuntimeOption {
	return base.WithBackend(b)
}

func WithTransformer(tr Transformer) RuntimeOption {
	return base.WithTransformer(tr)
}

func WithObservability(obs Observability) RuntimeOption {
	return base.WithObservability(obs)
}

func WithSubscribers(subs ...Subscriber) RuntimeOption {
	return base.WithSubscribers(subs...)
}

// Subscriber adapters.
func NewCallbackSubscriber(name string, fn EventHandler) Subscriber {
	return base.NewCallbackSubscriber(name, fn)
}

func NewChannelSubscriber(name string, buffer int) (Subscriber, <-chan []Event, func()) {
	return base.NewChannelSubscriber(name, buffer)
}

func DecodeFrame(data []byte) ([]Event, error) {
	return base.DecodeFrame(data)
}

// Publisher for callers that push samples themselves.
func NewPublisher(cfg *PublisherConfig, reg prometheus.Registerer) (*Publisher, error) {
	return base.NewPublisher(cfg, reg)
}
