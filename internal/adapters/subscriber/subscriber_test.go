package subscriber

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	redis "github.com/redis/go-redis/v9"

	"github.com/ghalamif/AegisStream/internal/ports"
)

type fakeHub struct {
	mu       sync.Mutex
	subs     map[string]ports.Subscriber
	attached chan ports.Subscriber
	detached chan string
}

func newFakeHub() *fakeHub {
	return &fakeHub{
		subs:     make(map[string]ports.Subscriber),
		attached: make(chan ports.Subscriber, 4),
		detached: make(chan string, 4),
	}
}

func (h *fakeHub) Attach(sub ports.Subscriber) {
	h.mu.Lock()
	h.subs[sub.ID()] = sub
	h.mu.Unlock()
	h.attached <- sub
}

func (h *fakeHub) Detach(id string) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
	h.detached <- id
}

func TestWebSocketHandlerDeliversFrames(t *testing.T) {
	hub := newFakeHub()
	srv := httptest.NewServer(NewWebSocketHandler(hub, nil))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	var sub ports.Subscriber
	select {
	case sub = <-hub.attached:
	case <-ctx.Done():
		t.Fatalf("connection was never attached")
	}
	if sub.ID() == "" {
		t.Fatalf("expected a subscriber id")
	}

	frame := []byte(`{"events":[{"name":"a","time":1,"value":1}]}`)
	if err := sub.Send(ctx, frame); err != nil {
		t.Fatalf("send: %v", err)
	}
	typ, got, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.MessageText || string(got) != string(frame) {
		t.Fatalf("unexpected message %v %q", typ, got)
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte("hello")); err != nil {
		t.Fatalf("client write: %v", err)
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")

	select {
	case id := <-hub.detached:
		if id != sub.ID() {
			t.Fatalf("detached %q, want %q", id, sub.ID())
		}
	case <-ctx.Done():
		t.Fatalf("connection was never detached")
	}

	if err := sub.Send(ctx, frame); !errors.Is(err, ports.ErrSubscriberClosed) {
		t.Fatalf("expected ErrSubscriberClosed after disconnect, got %v", err)
	}
}

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeMQTTClient struct {
	mqtt.Client
	connected bool
	err       error

	topic   string
	qos     byte
	payload []byte
}

func (c *fakeMQTTClient) IsConnectionOpen() bool { return c.connected }

func (c *fakeMQTTClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.topic = topic
	c.qos = qos
	c.payload, _ = payload.([]byte)
	return newFakeToken(c.err)
}

func TestMQTTPublishesFrames(t *testing.T) {
	client := &fakeMQTTClient{connected: true}
	sub := NewMQTT(client, "plant/stream", 1)

	if err := sub.Send(context.Background(), []byte("frame")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if client.topic != "plant/stream" || client.qos != 1 || string(client.payload) != "frame" {
		t.Fatalf("unexpected publish %+v", client)
	}
	if sub.ID() != "mqtt:plant/stream" {
		t.Fatalf("unexpected id %s", sub.ID())
	}
}

func TestMQTTReportsErrors(t *testing.T) {
	disconnected := NewMQTT(&fakeMQTTClient{}, "", 0)
	if err := disconnected.Send(context.Background(), []byte("x")); !errors.Is(err, ErrMQTTNotConnected) {
		t.Fatalf("expected ErrMQTTNotConnected, got %v", err)
	}

	failing := NewMQTT(&fakeMQTTClient{connected: true, err: errors.New("not authorized")}, "", 0)
	if err := failing.Send(context.Background(), []byte("x")); err == nil || !strings.Contains(err.Error(), "not authorized") {
		t.Fatalf("expected publish error, got %v", err)
	}
}

func TestDialMQTTRequiresBroker(t *testing.T) {
	if _, err := DialMQTT(context.Background(), MQTTConfig{}); !errors.Is(err, ports.ErrMissingDestination) {
		t.Fatalf("expected ErrMissingDestination, got %v", err)
	}
}

type fakePublisher struct {
	channel string
	message interface{}
	err     error
}

func (p *fakePublisher) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	p.channel = channel
	p.message = message
	return redis.NewIntResult(1, p.err)
}

func TestRedisPublishesFrames(t *testing.T) {
	pub := &fakePublisher{}
	sub := NewRedis(pub, "")

	if err := sub.Send(context.Background(), []byte("frame")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if pub.channel != DefaultRedisChannel {
		t.Fatalf("unexpected channel %s", pub.channel)
	}
	if b, ok := pub.message.([]byte); !ok || string(b) != "frame" {
		t.Fatalf("unexpected message %v", pub.message)
	}

	pub.err = errors.New("READONLY")
	if err := sub.Send(context.Background(), []byte("frame")); err == nil {
		t.Fatalf("expected publish error")
	}
}

func TestChannelSubscriber(t *testing.T) {
	c := NewChannel("", 1)
	if !strings.HasPrefix(c.ID(), "chan:") {
		t.Fatalf("unexpected id %s", c.ID())
	}

	if err := c.Send(context.Background(), []byte("one")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := <-c.Frames(); string(got) != "one" {
		t.Fatalf("unexpected frame %q", got)
	}

	c.Send(context.Background(), []byte("fill"))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.Send(ctx, []byte("blocked")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded on full channel, got %v", err)
	}

	c.Close()
	c.Close()
	if err := c.Send(context.Background(), []byte("late")); !errors.Is(err, ports.ErrSubscriberClosed) {
		t.Fatalf("expected ErrSubscriberClosed, got %v", err)
	}
}

func TestFuncSubscriber(t *testing.T) {
	var got []byte
	f := NewFunc("cb", func(_ context.Context, frame []byte) error {
		got = frame
		return nil
	})
	if err := f.Send(context.Background(), []byte("x")); err != nil || string(got) != "x" {
		t.Fatalf("unexpected result %q %v", got, err)
	}
	if err := NewFunc("", nil).Send(context.Background(), nil); !errors.Is(err, ports.ErrSubscriberClosed) {
		t.Fatalf("expected nil func to report closed, got %v", err)
	}
}

func TestPreviewTruncates(t *testing.T) {
	long := strings.Repeat("é", maxLoggedMessage)
	p := preview([]byte(long))
	if !strings.HasSuffix(p, "...") || len(p) > maxLoggedMessage+3 {
		t.Fatalf("unexpected preview length %d", len(p))
	}
}
