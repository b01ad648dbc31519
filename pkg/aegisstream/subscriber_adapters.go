package aegisstream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ghalamif/AegisStream/internal/adapters/subscriber"
)

// Event is one entry of a decoded {"events":[...]} frame.
type Event struct {
	Name  string `json:"name"`
	Time  int64  `json:"time"`
	Value any    `json:"value"`
}

type frame struct {
	Events []Event `json:"events"`
}

// DecodeFrame parses a frame produced by the broadcaster.
func DecodeFrame(data []byte) ([]Event, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return f.Events, nil
}

// EventHandler receives the decoded events of one frame.
type EventHandler func([]Event) error

// NewCallbackSubscriber adapts an EventHandler into a Subscriber so callers
// can plug arbitrary functions without defining structs.
func NewCallbackSubscriber(name string, fn EventHandler) Subscriber {
	if name == "" {
		name = "callback"
	}
	if fn == nil {
		return subscriber.NewFunc(name, nil)
	}
	return subscriber.NewFunc(name, func(_ context.Context, data []byte) error {
		events, err := DecodeFrame(data)
		if err != nil {
			return err
		}
		return fn(events)
	})
}

// NewChannelSubscriber exposes decoded frames via a channel; it returns the
// subscriber, the read-only channel and a close function that the caller
// should invoke during shutdown. The channel is closed once the close
// function has run.
func NewChannelSubscriber(name string, buffer int) (Subscriber, <-chan []Event, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	raw := subscriber.NewChannel(name, buffer)
	out := make(chan []Event, buffer)

	go func() {
		defer close(out)
		for {
			select {
			case <-raw.Done():
				return
			case data := <-raw.Frames():
				events, err := DecodeFrame(data)
				if err != nil {
					continue
				}
				select {
				case out <- events:
				case <-raw.Done():
					return
				}
			}
		}
	}()
	return raw, out, raw.Close
}
