package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ghalamif/AegisStream/internal/adapters/observability"
	"github.com/ghalamif/AegisStream/internal/domain"
	"github.com/ghalamif/AegisStream/internal/ports"
)

const (
	DefaultMaxBytes     = 100 * 1024
	DefaultMaxLines     = 200
	DefaultFlushTimeout = 5 * time.Second
	DefaultAsyncQueue   = 16
)

// Buffer accumulates line-protocol lines in front of a Backend and decides
// when to hand them over. The buffer is cleared on every flush whether or not
// the backend accepted the batch; nothing is re-queued.
type Buffer struct {
	backend     ports.Backend
	policy      ports.BufferPolicy
	measurement string
	clock       ports.Clock
	obs         ports.Observability

	mu     sync.Mutex
	buf    bytes.Buffer
	lines  int
	stats  ports.SinkStats
	closed bool

	batches  chan batch
	workerWG sync.WaitGroup

	stopTick chan struct{}
	tickWG   sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

type batch struct {
	data  []byte
	lines int
}

// BufferOption customizes a Buffer.
type BufferOption func(*Buffer)

// WithMeasurement sets the measurement name written in front of every line.
func WithMeasurement(m string) BufferOption {
	return func(b *Buffer) {
		if m != "" {
			b.measurement = m
		}
	}
}

func WithClock(c ports.Clock) BufferOption {
	return func(b *Buffer) {
		if c != nil {
			b.clock = c
		}
	}
}

func WithObservability(obs ports.Observability) BufferOption {
	return func(b *Buffer) {
		if obs != nil {
			b.obs = obs
		}
	}
}

// NewBuffer wraps backend with the buffering policy. When the policy has a
// FlushInterval a background ticker calls Tick until Close.
func NewBuffer(backend ports.Backend, policy ports.BufferPolicy, opts ...BufferOption) *Buffer {
	if policy.MaxBytes <= 0 {
		policy.MaxBytes = DefaultMaxBytes
	}
	if policy.MaxLines <= 0 {
		policy.MaxLines = DefaultMaxLines
	}
	if policy.FlushTimeout <= 0 {
		policy.FlushTimeout = DefaultFlushTimeout
	}
	if policy.AsyncQueue <= 0 {
		policy.AsyncQueue = DefaultAsyncQueue
	}

	b := &Buffer{
		backend:     backend,
		policy:      policy,
		measurement: domain.DefaultMeasurement,
		clock:       ports.RealClock{},
		obs:         observability.NewLogObs(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}

	if policy.Async {
		b.batches = make(chan batch, policy.AsyncQueue)
		b.workerWG.Add(1)
		go b.runWorker()
	}
	if policy.FlushInterval > 0 {
		b.stopTick = make(chan struct{})
		b.tickWG.Add(1)
		go b.runTicker(policy.FlushInterval)
	}
	return b
}

func (b *Buffer) Name() string { return b.backend.Name() }

// Write serializes the sample and appends it. Samples that cannot be
// serialized are dropped and counted.
func (b *Buffer) Write(s *domain.Sample) {
	if s == nil {
		return
	}
	line, err := s.Line(b.measurement)
	if err != nil {
		b.mu.Lock()
		b.stats.DroppedCount++
		b.mu.Unlock()
		b.obs.RecordDropped("serialization", s, err)
		return
	}
	b.WriteLine(line)
}

// WriteLine appends line plus a newline. Crossing MaxBytes or reaching
// MaxLines flushes before returning.
func (b *Buffer) WriteLine(line string) {
	if line == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		b.stats.DroppedCount++
		b.obs.RecordDropped("sink_closed", nil, nil)
		return
	}

	b.buf.WriteString(line)
	b.buf.WriteByte('\n')
	b.lines++

	if b.buf.Len() > b.policy.MaxBytes || b.lines >= b.policy.MaxLines {
		b.flushLocked()
	}
}

// Flush hands buffered lines to the backend. It is a no-op when empty.
func (b *Buffer) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

// Tick is the timer-driven flush: it flushes pending lines or, when there are
// none, passes the idle signal so the backend can roll its session.
func (b *Buffer) Tick() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	if b.buf.Len() > 0 {
		b.flushLocked()
		return
	}

	if b.policy.Async {
		select {
		case b.batches <- batch{}:
		default:
		}
		return
	}
	if err := b.writeBackend(nil); err != nil {
		b.obs.LogError("sink_idle_failed", err, ports.Field{Key: "backend", Value: b.backend.Name()})
	}
}

// Close flushes what is left, stops background work and releases the
// backend. It is safe to call more than once.
func (b *Buffer) Close() error {
	b.closeOnce.Do(func() {
		if b.stopTick != nil {
			close(b.stopTick)
			b.tickWG.Wait()
		}

		// The final async batch is queued with a blocking send outside mu so
		// the worker can keep recording results while it drains the queue.
		var final batch
		b.mu.Lock()
		if b.policy.Async && b.buf.Len() > 0 {
			final = batch{data: bytes.Clone(b.buf.Bytes()), lines: b.lines}
			b.resetLocked()
		} else {
			b.flushLocked()
		}
		b.closed = true
		b.mu.Unlock()

		if b.batches != nil {
			if len(final.data) > 0 {
				b.batches <- final
			}
			close(b.batches)
			b.workerWG.Wait()
		}

		if c, ok := b.backend.(io.Closer); ok {
			if err := c.Close(); err != nil {
				b.closeErr = fmt.Errorf("close %s sink: %w", b.backend.Name(), err)
			}
		}
	})
	return b.closeErr
}

// Stats returns a snapshot of the buffer occupancy and flush counters.
func (b *Buffer) Stats() ports.SinkStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.stats
	s.Backend = b.backend.Name()
	s.BufferedBytes = b.buf.Len()
	s.BufferedLines = b.lines
	s.Capacity = b.policy.MaxBytes
	return s
}

func (b *Buffer) flushLocked() {
	if b.buf.Len() == 0 {
		return
	}
	lines := b.lines

	if b.policy.Async {
		payload := bytes.Clone(b.buf.Bytes())
		b.resetLocked()
		select {
		case b.batches <- batch{data: payload, lines: lines}:
		default:
			b.stats.DroppedCount += uint64(lines)
			b.obs.IncCounter(observability.SamplesDropped, float64(lines))
			b.obs.LogError("sink_queue_full", fmt.Errorf("dropped batch of %d lines", lines),
				ports.Field{Key: "backend", Value: b.backend.Name()})
		}
		return
	}

	defer b.resetLocked()
	b.recordLocked(b.writeBackend(b.buf.Bytes()), b.buf.Len(), lines)
}

func (b *Buffer) resetLocked() {
	b.buf.Reset()
	b.lines = 0
	b.obs.SetGauge(observability.SinkBufferedBytes, 0)
}

func (b *Buffer) writeBackend(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), b.policy.FlushTimeout)
	defer cancel()

	start := time.Now()
	err := b.backend.WriteBatch(ctx, data)
	if len(data) > 0 {
		b.obs.ObserveLatency(observability.SinkFlushLatency, time.Since(start).Seconds())
	}
	return err
}

func (b *Buffer) recordLocked(err error, size, lines int) {
	now := b.clock.Now().UnixMilli()
	if err != nil {
		b.stats.ErrorCount++
		b.stats.LastFlushErrAt = now
		b.obs.IncCounter(observability.SinkFlushErrors, 1)
		b.obs.LogError("sink_flush_failed", err,
			ports.Field{Key: "backend", Value: b.backend.Name()},
			ports.Field{Key: "lines", Value: lines},
			ports.Field{Key: "bytes", Value: size})
		return
	}
	b.stats.FlushCount++
	b.stats.LastFlushOKAt = now
	b.stats.SentBytes += uint64(size)
	b.obs.IncCounter(observability.SinkFlushes, 1)
	b.obs.IncCounter(observability.SinkSentBytes, float64(size))
}

func (b *Buffer) runWorker() {
	defer b.workerWG.Done()
	for bt := range b.batches {
		err := b.writeBackend(bt.data)
		if len(bt.data) == 0 {
			if err != nil {
				b.obs.LogError("sink_idle_failed", err, ports.Field{Key: "backend", Value: b.backend.Name()})
			}
			continue
		}
		b.mu.Lock()
		b.recordLocked(err, len(bt.data), bt.lines)
		b.mu.Unlock()
	}
}

func (b *Buffer) runTicker(interval time.Duration) {
	defer b.tickWG.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopTick:
			return
		case <-ticker.C:
			b.Tick()
		}
	}
}

var _ ports.Sink = (*Buffer)(nil)
