package ports

import (
	"context"
	"errors"
)

// ErrSubscriberClosed tells the broadcaster a subscriber is gone for good and
// should be removed from the set.
var ErrSubscriberClosed = errors.New("subscriber closed")

// Subscriber is the "send text message" capability of a transport
// (WebSocket connection, MQTT topic, Redis channel, in-process callback).
type Subscriber interface {
	ID() string
	Send(ctx context.Context, frame []byte) error
}
