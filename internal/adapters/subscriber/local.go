package subscriber

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ghalamif/AegisStream/internal/ports"
)

// Func adapts a plain function into an in-process subscriber.
type Func struct {
	id string
	fn func(ctx context.Context, frame []byte) error
}

func NewFunc(id string, fn func(ctx context.Context, frame []byte) error) *Func {
	if id == "" {
		id = "func:" + uuid.NewString()
	}
	return &Func{id: id, fn: fn}
}

func (f *Func) ID() string { return f.id }

func (f *Func) Send(ctx context.Context, frame []byte) error {
	if f.fn == nil {
		return ports.ErrSubscriberClosed
	}
	return f.fn(ctx, frame)
}

// Channel delivers frames on a Go channel. A full channel blocks the send
// until the broadcaster's send timeout expires.
type Channel struct {
	id     string
	ch     chan []byte
	closed chan struct{}
	once   sync.Once
}

func NewChannel(id string, buffer int) *Channel {
	if id == "" {
		id = "chan:" + uuid.NewString()
	}
	if buffer < 0 {
		buffer = 0
	}
	return &Channel{id: id, ch: make(chan []byte, buffer), closed: make(chan struct{})}
}

func (c *Channel) ID() string { return c.id }

func (c *Channel) Frames() <-chan []byte { return c.ch }

// Done is closed by Close.
func (c *Channel) Done() <-chan struct{} { return c.closed }

func (c *Channel) Send(ctx context.Context, frame []byte) error {
	select {
	case <-c.closed:
		return ports.ErrSubscriberClosed
	default:
	}

	select {
	case <-c.closed:
		return ports.ErrSubscriberClosed
	case c.ch <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops delivery. Sends racing with Close either land or report
// ErrSubscriberClosed; the frames channel is never closed under a sender.
func (c *Channel) Close() {
	c.once.Do(func() { close(c.closed) })
}

var (
	_ ports.Subscriber = (*Func)(nil)
	_ ports.Subscriber = (*Channel)(nil)
)
