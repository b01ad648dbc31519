package pipeline

import (
	"context"

	"github.com/ghalamif/AegisStream/internal/domain"
	"github.com/ghalamif/AegisStream/internal/ports"
)

// Recorder is the broadcaster's producer-facing side.
type Recorder interface {
	Record(s *domain.Sample)
}

// RunEdgePipeline starts col and forwards every sample it emits through tr
// into rec until ctx is cancelled. The returned channel is closed once the
// forwarding goroutine has exited. The collector is not stopped here.
func RunEdgePipeline(ctx context.Context, col ports.Collector, tr ports.Transformer, rec Recorder, queueLen int, obs ports.Observability) (<-chan struct{}, error) {
	if queueLen <= 0 {
		queueLen = 1024
	}
	ch := make(chan *domain.Sample, queueLen)

	if err := col.Start(ch); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-ch:
				forward(s, tr, rec, obs)
			}
		}
	}()

	return done, nil
}

func forward(s *domain.Sample, tr ports.Transformer, rec Recorder, obs ports.Observability) {
	if s == nil {
		return
	}
	if tr != nil {
		out, err := tr.Transform(s)
		if err != nil {
			obs.RecordDropped("transform", s, err)
			return
		}
		if out == nil {
			return
		}
		s = out
	}
	rec.Record(s)
}

// NoopTransformer passes samples through unchanged.
type NoopTransformer struct{}

func (NoopTransformer) Transform(s *domain.Sample) (*domain.Sample, error) { return s, nil }
func (NoopTransformer) Version() uint16                                    { return 1 }

var _ ports.Transformer = NoopTransformer{}
