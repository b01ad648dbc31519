package aegisstream

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ghalamif/AegisStream/internal/adapters/observability"
	"github.com/ghalamif/AegisStream/internal/adapters/sink"
	"github.com/ghalamif/AegisStream/internal/app/broadcast"
	"github.com/ghalamif/AegisStream/internal/domain"
	"github.com/ghalamif/AegisStream/internal/ports"
)

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("aegisstream: publisher closed")

// Sample is the caller-facing form of a recorded value.
type Sample struct {
	Key   string
	Name  string
	Time  time.Time
	Value any
}

// PublisherConfig configures a Publisher: a sink and a broadcaster without
// producers or HTTP servers, for callers that push samples themselves.
type PublisherConfig struct {
	Sink      SinkConfig
	Broadcast BroadcastPolicy
	Log       LogConfig
}

func (c *PublisherConfig) applyDefaults() {
	cfg := Config{Sink: c.Sink, Broadcast: c.Broadcast, Log: c.Log}
	cfg.ApplyDefaults()
	c.Sink, c.Broadcast, c.Log = cfg.Sink, cfg.Broadcast, cfg.Log
}

// Publisher exposes the broadcaster and sink to external producers.
type Publisher struct {
	obs         ports.Observability
	sink        ports.Sink
	broadcaster *broadcast.Broadcaster

	mu     sync.Mutex
	closed bool
}

// NewPublisher builds the configured sink and a broadcaster in front of it.
// Metrics are registered on reg when it is non-nil.
func NewPublisher(cfg *PublisherConfig, reg prometheus.Registerer) (*Publisher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg.applyDefaults()

	logger := cfg.Log.NewLogger(os.Stderr)
	var obs ports.Observability = observability.NewLogObs(logger)
	if reg != nil {
		obs = observability.NewPromObs(reg, logger)
	}

	snk, err := sink.Build(cfg.Sink, sink.Deps{Obs: obs})
	if err != nil {
		return nil, err
	}
	return &Publisher{
		obs:         obs,
		sink:        snk,
		broadcaster: broadcast.New(snk, cfg.Broadcast, broadcast.WithObservability(obs)),
	}, nil
}

// Publish records one sample. A zero Time means now.
func (p *Publisher) Publish(sample Sample) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrPublisherClosed
	}

	dom := sample.toDomain()
	if _, err := dom.Normalized(); err != nil {
		return err
	}
	if dom.Label() == "" {
		return domain.ErrUnnamedSample
	}
	p.broadcaster.Record(dom)
	return nil
}

func (p *Publisher) Attach(sub Subscriber) { p.broadcaster.Attach(sub) }

func (p *Publisher) Detach(id string) { p.broadcaster.Detach(id) }

func (p *Publisher) Sink() Sink { return p.sink }

func (p *Publisher) Stats() BroadcastStats { return p.broadcaster.Stats() }

// Close delivers pending frames, then flushes and closes the sink,
// respecting the provided context.
func (p *Publisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		p.broadcaster.Close()
		done <- p.sink.Close()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s Sample) toDomain() *domain.Sample {
	ts := s.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return &domain.Sample{
		Key:       s.Key,
		Name:      s.Name,
		Timestamp: ts.UnixMilli(),
		Value:     s.Value,
	}
}
