package aegisstream

import (
	"context"
	"sync"
)

type stubCollector struct {
	samples []*PipelineSample

	mu      sync.Mutex
	stopCh  chan struct{}
	stopHit bool
}

func (s *stubCollector) Start(out chan<- *PipelineSample) error {
	s.mu.Lock()
	s.stopCh = make(chan struct{})
	stop := s.stopCh
	s.mu.Unlock()

	go func() {
		for _, sample := range s.samples {
			select {
			case out <- sample:
			case <-stop:
				return
			}
		}
	}()
	return nil
}

func (s *stubCollector) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil && !s.stopHit {
		close(s.stopCh)
	}
	s.stopHit = true
	return nil
}

func (s *stubCollector) stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopHit
}

type stubSink struct{}

func (s *stubSink) Name() string          { return "stub" }
func (s *stubSink) Write(*PipelineSample) {}
func (s *stubSink) WriteLine(string)      {}
func (s *stubSink) Flush()                {}
func (s *stubSink) Close() error          { return nil }
func (s *stubSink) Stats() SinkStats      { return SinkStats{Backend: "stub"} }

type stubBackend struct {
	mu      sync.Mutex
	batches int
}

func (b *stubBackend) Name() string { return "stub" }

func (b *stubBackend) WriteBatch(_ context.Context, batch []byte) error {
	if len(batch) == 0 {
		return nil
	}
	b.mu.Lock()
	b.batches++
	b.mu.Unlock()
	return nil
}

type stubTransformer struct{}

func (s *stubTransformer) Transform(sample *PipelineSample) (*PipelineSample, error) {
	return sample, nil
}
func (s *stubTransformer) Version() uint16 { return 42 }

type stubObservability struct{}

func (s *stubObservability) LogInfo(string, ...Field)                     {}
func (s *stubObservability) LogError(string, error, ...Field)             {}
func (s *stubObservability) LogCritical(string, error, ...Field)          {}
func (s *stubObservability) IncCounter(string, float64)                   {}
func (s *stubObservability) ObserveLatency(string, float64)               {}
func (s *stubObservability) SetGauge(string, float64)                     {}
func (s *stubObservability) RecordDropped(string, *PipelineSample, error) {}
