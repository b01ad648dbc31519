package aegisstream

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewCallbackSubscriber(t *testing.T) {
	var received []Event
	sub := NewCallbackSubscriber("cb", func(events []Event) error {
		received = append(received, events...)
		return nil
	})

	frame := []byte(`{"events":[{"name":"temp","time":1000,"value":21.5},{"name":"on","time":1001,"value":true}]}`)
	if err := sub.Send(context.Background(), frame); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if len(received) != 2 {
		t.Fatalf("expected 2 events, got %d", len(received))
	}
	if received[0].Name != "temp" || received[0].Time != 1000 || received[0].Value != 21.5 {
		t.Fatalf("unexpected first event %+v", received[0])
	}
	if received[1].Value != true {
		t.Fatalf("unexpected second event %+v", received[1])
	}
}

func TestNewCallbackSubscriberNilHandler(t *testing.T) {
	sub := NewCallbackSubscriber("", nil)
	if sub.ID() != "callback" {
		t.Fatalf("expected default name, got %q", sub.ID())
	}
	if err := sub.Send(context.Background(), []byte(`{"events":[]}`)); !errors.Is(err, ErrSubscriberClosed) {
		t.Fatalf("expected ErrSubscriberClosed, got %v", err)
	}
}

func TestNewChannelSubscriber(t *testing.T) {
	sub, ch, closeFn := NewChannelSubscriber("chan", 1)
	defer closeFn()

	errCh := make(chan error, 1)
	go func() {
		errCh <- sub.Send(context.Background(), []byte(`{"events":[{"name":"a","time":1,"value":2}]}`))
	}()

	var batch []Event
	select {
	case batch = <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel batch")
	}

	if err := <-errCh; err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if len(batch) != 1 || batch[0].Name != "a" {
		t.Fatalf("unexpected batch data: %+v", batch)
	}

	closeFn()
	if err := sub.Send(context.Background(), []byte(`{"events":[]}`)); !errors.Is(err, ErrSubscriberClosed) {
		t.Fatalf("expected ErrSubscriberClosed, got %v", err)
	}
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after closeFn")
	}
}

func TestDecodeFrameRejectsGarbage(t *testing.T) {
	if _, err := DecodeFrame([]byte("not json")); err == nil {
		t.Fatalf("expected decode error")
	}
}
