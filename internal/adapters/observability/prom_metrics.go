package observability

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ghalamif/AegisStream/internal/domain"
	"github.com/ghalamif/AegisStream/internal/ports"
)

// PromObs logs through slog and records counters, gauges and latency
// histograms in Prometheus.
type PromObs struct {
	*LogObs
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

// NewPromObs registers the stream metrics on reg (the default registerer
// when nil).
func NewPromObs(reg prometheus.Registerer, logger *slog.Logger) *PromObs {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	}

	recorded := counter(SamplesRecorded, "Samples accepted by the broadcaster.")
	dropped := counter(SamplesDropped, "Samples dropped (serialization failure, full queues, ring eviction).")
	frames := counter(FramesSent, "Coalesced frames delivered to subscribers.")
	sendErrors := counter(SubscriberSendErrors, "Failed subscriber sends.")
	flushes := counter(SinkFlushes, "Successful sink batch writes.")
	flushErrors := counter(SinkFlushErrors, "Failed sink batch writes.")
	sentBytes := counter(SinkSentBytes, "Bytes accepted by the sink backend.")

	subscribers := gauge(Subscribers, "Currently attached subscribers.")
	buffered := gauge(SinkBufferedBytes, "Bytes waiting in the sink buffer.")

	flushLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    SinkFlushLatency,
		Help:    "Duration of one sink batch write.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
	sendLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    BroadcastSendLatency,
		Help:    "Duration of one broadcast tick fan-out.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})

	reg.MustRegister(recorded, dropped, frames, sendErrors, flushes, flushErrors, sentBytes,
		subscribers, buffered, flushLatency, sendLatency)

	return &PromObs{
		LogObs: NewLogObs(logger),
		counters: map[string]prometheus.Counter{
			SamplesRecorded:      recorded,
			SamplesDropped:       dropped,
			FramesSent:           frames,
			SubscriberSendErrors: sendErrors,
			SinkFlushes:          flushes,
			SinkFlushErrors:      flushErrors,
			SinkSentBytes:        sentBytes,
		},
		gauges: map[string]prometheus.Gauge{
			Subscribers:       subscribers,
			SinkBufferedBytes: buffered,
		},
		histos: map[string]prometheus.Observer{
			SinkFlushLatency:     flushLatency,
			BroadcastSendLatency: sendLatency,
		},
	}
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) RecordDropped(reason string, s *domain.Sample, err error) {
	p.IncCounter(SamplesDropped, 1)
	p.LogObs.RecordDropped(reason, s, err)
}

var _ ports.Observability = (*PromObs)(nil)
