package aegisstream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ghalamif/AegisStream/internal/adapters/sink"
)

func TestPublisherRecordsIntoSinkAndSubscribers(t *testing.T) {
	pub, err := NewPublisher(&PublisherConfig{Sink: SinkConfig{Backend: "ring"}}, nil)
	if err != nil {
		t.Fatalf("NewPublisher returned error: %v", err)
	}

	if err := pub.Publish(Sample{Key: "ns=1;s=T", Name: "temp", Time: time.UnixMilli(1000), Value: 21.5}); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	sub, ch, closeFn := NewChannelSubscriber("late", 4)
	defer closeFn()
	pub.Attach(sub)

	select {
	case events := <-ch:
		if len(events) != 1 || events[0].Name != "temp" || events[0].Time != 1000 {
			t.Fatalf("unexpected state push %+v", events)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for current state")
	}

	ring, ok := pub.Sink().(*sink.RingSink)
	if !ok {
		t.Fatalf("expected ring sink, got %T", pub.Sink())
	}
	if lines := ring.Lines(); len(lines) != 1 || lines[0] != "hid temp=21.5 1000" {
		t.Fatalf("unexpected sink lines %q", lines)
	}

	if err := pub.Close(context.Background()); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if err := pub.Publish(Sample{Name: "temp", Value: 1}); !errors.Is(err, ErrPublisherClosed) {
		t.Fatalf("expected ErrPublisherClosed, got %v", err)
	}
}

func TestPublisherRejectsInvalidSamples(t *testing.T) {
	pub, err := NewPublisher(&PublisherConfig{}, nil)
	if err != nil {
		t.Fatalf("NewPublisher returned error: %v", err)
	}
	defer pub.Close(context.Background())

	if err := pub.Publish(Sample{Name: "x", Value: struct{}{}}); err == nil {
		t.Fatalf("expected unsupported value error")
	}
	if err := pub.Publish(Sample{Value: 1}); err == nil {
		t.Fatalf("expected unnamed sample error")
	}
	if got := pub.Stats().Recorded; got != 0 {
		t.Fatalf("expected nothing recorded, got %d", got)
	}
}
