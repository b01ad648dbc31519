package aegisstream

import (
	"github.com/ghalamif/AegisStream/internal/adapters/sink"
	"github.com/ghalamif/AegisStream/internal/app/broadcast"
	"github.com/ghalamif/AegisStream/internal/domain"
	"github.com/ghalamif/AegisStream/internal/ports"
)

// PipelineSample is the value that flows from collectors through the
// broadcaster into sinks and subscribers. It is exported so custom adapters
// can reference it.
type PipelineSample = domain.Sample

// Collector streams samples from any data source (OPC UA, simulators, devices) into the pipeline.
type Collector = ports.Collector

// Transformer lets callers rewrite samples (unit conversion, renaming) before they are recorded.
type Transformer = ports.Transformer

// Sink receives every recorded sample in line-protocol form.
type Sink = ports.Sink

// Backend is the write side of a buffered sink. Wrap a custom one with WithBackend.
type Backend = ports.Backend

// SinkStats is the health snapshot of a sink.
type SinkStats = ports.SinkStats

// SinkDiagnostics is the compact health view shown on /status.
type SinkDiagnostics = sink.Diagnostics

// Subscriber receives coalesced {"events":[...]} frames.
type Subscriber = ports.Subscriber

// BroadcastStats is the activity snapshot of the broadcaster.
type BroadcastStats = broadcast.Stats

// Observability emits metrics/logs about throughput, latency and drops.
type Observability = ports.Observability

// Field is a structured log/metric field used by Observability implementations.
type Field = ports.Field

// ErrSubscriberClosed tells the broadcaster to forget a subscriber.
var ErrSubscriberClosed = ports.ErrSubscriberClosed

// ErrMissingDestination is returned when a sink or transport lacks its target.
var ErrMissingDestination = ports.ErrMissingDestination
