package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ghalamif/AegisStream/internal/adapters/sink"
	"github.com/ghalamif/AegisStream/internal/domain"
	"github.com/ghalamif/AegisStream/internal/ports"
)

type fakeSubscriber struct {
	id   string
	err  error
	hang bool

	mu     sync.Mutex
	frames [][]byte
	got    chan []byte
}

func newFakeSubscriber(id string) *fakeSubscriber {
	return &fakeSubscriber{id: id, got: make(chan []byte, 16)}
}

func (f *fakeSubscriber) ID() string { return f.id }

func (f *fakeSubscriber) Send(ctx context.Context, frame []byte) error {
	if f.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	f.frames = append(f.frames, frame)
	f.mu.Unlock()
	f.got <- frame
	return nil
}

func (f *fakeSubscriber) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

type frameJSON struct {
	Events []struct {
		Name  string `json:"name"`
		Time  int64  `json:"time"`
		Value any    `json:"value"`
	} `json:"events"`
}

func decodeFrame(t *testing.T, raw []byte) frameJSON {
	t.Helper()
	var f frameJSON
	if err := json.Unmarshal(raw, &f); err != nil {
		t.Fatalf("decode frame %q: %v", raw, err)
	}
	return f
}

func waitFrame(t *testing.T, sub *fakeSubscriber) []byte {
	t.Helper()
	select {
	case f := <-sub.got:
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("subscriber %s received nothing", sub.id)
		return nil
	}
}

func manualTicker() (chan time.Time, Option) {
	ch := make(chan time.Time)
	return ch, WithTicker(func(time.Duration) *Ticker {
		return &Ticker{C: ch, Stop: func() {}}
	})
}

func TestBroadcasterCoalescesOneFramePerTick(t *testing.T) {
	ring := sink.NewRingSink(10, "", nil)
	tick, opt := manualTicker()
	b := New(ring, ports.BroadcastPolicy{}, opt)

	s1, s2 := newFakeSubscriber("s1"), newFakeSubscriber("s2")
	b.Attach(s1)
	b.Attach(s2)

	for i := 0; i < 5; i++ {
		b.Record(&domain.Sample{Key: fmt.Sprintf("k%d", i), Name: fmt.Sprintf("n%d", i), Timestamp: int64(i), Value: i})
	}
	tick <- time.Now()

	for _, sub := range []*fakeSubscriber{s1, s2} {
		frame := decodeFrame(t, waitFrame(t, sub))
		if len(frame.Events) != 5 {
			t.Fatalf("%s: expected 5 events, got %d", sub.id, len(frame.Events))
		}
		for i, ev := range frame.Events {
			if ev.Name != fmt.Sprintf("n%d", i) || ev.Time != int64(i) {
				t.Fatalf("%s: event %d out of order: %+v", sub.id, i, ev)
			}
		}
	}

	b.Close()
	if s1.count() != 1 || s2.count() != 1 {
		t.Fatalf("expected exactly one payload each, got %d and %d", s1.count(), s2.count())
	}
	if got := len(ring.Lines()); got != 5 {
		t.Fatalf("expected 5 lines forwarded to sink, got %d", got)
	}
	if st := b.Stats(); st.Recorded != 5 || st.Frames != 1 || st.Subscribers != 2 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestBroadcasterEmptyTickSendsNothing(t *testing.T) {
	tick, opt := manualTicker()
	b := New(sink.NewNullSink(), ports.BroadcastPolicy{}, opt)
	sub := newFakeSubscriber("s")
	b.Attach(sub)

	b.Record(&domain.Sample{Name: "a", Value: 1})
	tick <- time.Now()
	waitFrame(t, sub)

	tick <- time.Now()
	b.Close()
	if sub.count() != 1 {
		t.Fatalf("expected no frame for an empty tick, got %d frames", sub.count())
	}
}

func TestBroadcasterRemovesClosedSubscriber(t *testing.T) {
	tick, opt := manualTicker()
	b := New(nil, ports.BroadcastPolicy{}, opt)

	gone := newFakeSubscriber("gone")
	gone.err = fmt.Errorf("write: %w", ports.ErrSubscriberClosed)
	alive := newFakeSubscriber("alive")
	b.Attach(gone)
	b.Attach(alive)

	b.Record(&domain.Sample{Name: "a", Value: true})
	tick <- time.Now()
	waitFrame(t, alive)
	b.Close()

	st := b.Stats()
	if st.Subscribers != 1 {
		t.Fatalf("expected closed subscriber to be detached, got %d subscribers", st.Subscribers)
	}
	if st.SendErrors != 1 {
		t.Fatalf("expected one send error, got %d", st.SendErrors)
	}

	b.Detach("gone")
	b.Detach("never-attached")
}

func TestBroadcasterSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	tick, opt := manualTicker()
	b := New(nil, ports.BroadcastPolicy{SendTimeout: 50 * time.Millisecond}, opt)

	slow := newFakeSubscriber("slow")
	slow.hang = true
	fast := newFakeSubscriber("fast")
	b.Attach(slow)
	b.Attach(fast)

	b.Record(&domain.Sample{Name: "a", Value: "x"})
	start := time.Now()
	tick <- time.Now()
	waitFrame(t, fast)
	b.Close()

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("tick took too long with a hanging subscriber: %v", elapsed)
	}
	if st := b.Stats(); st.Subscribers != 2 || st.SendErrors != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestBroadcasterAttachPushesCurrentState(t *testing.T) {
	tick, opt := manualTicker()
	b := New(nil, ports.BroadcastPolicy{}, opt)
	defer b.Close()

	b.Record(&domain.Sample{Key: "b", Name: "beta", Timestamp: 1, Value: 1})
	b.Record(&domain.Sample{Key: "a", Name: "alpha", Timestamp: 2, Value: 2})
	b.Record(&domain.Sample{Key: "b", Name: "beta", Timestamp: 3, Value: 3})
	_ = tick

	late := newFakeSubscriber("late")
	b.Attach(late)

	frame := decodeFrame(t, waitFrame(t, late))
	if len(frame.Events) != 2 {
		t.Fatalf("expected one event per key, got %d", len(frame.Events))
	}
	if frame.Events[0].Name != "alpha" || frame.Events[1].Name != "beta" || frame.Events[1].Time != 3 {
		t.Fatalf("unexpected current state %+v", frame.Events)
	}
}

func TestBroadcasterAttachWithoutStateSendsNothing(t *testing.T) {
	_, opt := manualTicker()
	b := New(nil, ports.BroadcastPolicy{}, opt)
	defer b.Close()

	if b.CurrentState() != nil {
		t.Fatalf("expected nil state before any record")
	}
	sub := newFakeSubscriber("s")
	b.Attach(sub)
	select {
	case f := <-sub.got:
		t.Fatalf("unexpected frame %q", f)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcasterDropsUnserializableAndLateSamples(t *testing.T) {
	ring := sink.NewRingSink(4, "", nil)
	_, opt := manualTicker()
	b := New(ring, ports.BroadcastPolicy{}, opt)

	b.Record(&domain.Sample{Name: "bad", Value: map[string]int{"x": 1}})
	b.Close()
	b.Record(&domain.Sample{Name: "late", Value: 1})

	if st := b.Stats(); st.Dropped != 2 || st.Recorded != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if ring.Len() != 0 {
		t.Fatalf("dropped samples must not reach the sink")
	}
}

func TestBroadcasterCloseDeliversPending(t *testing.T) {
	_, opt := manualTicker()
	b := New(nil, ports.BroadcastPolicy{}, opt)
	sub := newFakeSubscriber("s")
	b.Attach(sub)

	b.Record(&domain.Sample{Name: "a", Value: 1.5})
	b.Close()

	frame := decodeFrame(t, waitFrame(t, sub))
	if len(frame.Events) != 1 || frame.Events[0].Name != "a" {
		t.Fatalf("unexpected final frame %+v", frame)
	}
}

func TestBuildFrame(t *testing.T) {
	if got := string(buildFrame(nil)); got != `{"events":[]}` {
		t.Fatalf("unexpected empty frame %s", got)
	}
	got := string(buildFrame([][]byte{[]byte(`{"a":1}`), []byte(`{"b":2}`)}))
	if got != `{"events":[{"a":1},{"b":2}]}` {
		t.Fatalf("unexpected frame %s", got)
	}
}

// collectingSubscriber never blocks the broadcaster.
type collectingSubscriber struct {
	mu     sync.Mutex
	frames [][]byte
}

func (c *collectingSubscriber) ID() string { return "collector" }

func (c *collectingSubscriber) Send(_ context.Context, frame []byte) error {
	c.mu.Lock()
	c.frames = append(c.frames, frame)
	c.mu.Unlock()
	return nil
}

func (c *collectingSubscriber) snapshot() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.frames...)
}

func TestBroadcasterStateFramePrecedesNextTick(t *testing.T) {
	tick, opt := manualTicker()
	b := New(nil, ports.BroadcastPolicy{}, opt)
	defer b.Close()

	b.Record(&domain.Sample{Key: "b", Name: "beta", Timestamp: 1, Value: 1})
	tick <- time.Now()
	b.Record(&domain.Sample{Key: "a", Name: "alpha", Timestamp: 2, Value: 2})

	sub := newFakeSubscriber("s")
	b.Attach(sub)
	tick <- time.Now()

	state := decodeFrame(t, waitFrame(t, sub))
	if len(state.Events) != 2 || state.Events[0].Name != "alpha" || state.Events[1].Name != "beta" {
		t.Fatalf("expected the state frame first, got %+v", state.Events)
	}
	next := decodeFrame(t, waitFrame(t, sub))
	if len(next.Events) != 1 || next.Events[0].Name != "alpha" {
		t.Fatalf("expected the tick frame second, got %+v", next.Events)
	}
}

func TestBroadcasterConcurrentRecordKeepsProducerOrder(t *testing.T) {
	const producers, perProducer = 8, 250

	tick, opt := manualTicker()
	b := New(nil, ports.BroadcastPolicy{QueueLen: producers * perProducer}, opt)
	sub := &collectingSubscriber{}
	b.Attach(sub)

	stop := make(chan struct{})
	ticked := make(chan struct{})
	go func() {
		defer close(ticked)
		for {
			select {
			case <-stop:
				return
			case tick <- time.Now():
			}
		}
	}()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for n := 0; n < perProducer; n++ {
				b.Record(&domain.Sample{
					Key:       fmt.Sprintf("p%d", p),
					Name:      fmt.Sprintf("p%d", p),
					Timestamp: int64(n),
					Value:     n,
				})
			}
		}(p)
	}
	wg.Wait()
	close(stop)
	<-ticked
	b.Close()

	next := make(map[string]int64, producers)
	total := 0
	for _, raw := range sub.snapshot() {
		for _, ev := range decodeFrame(t, raw).Events {
			if ev.Time != next[ev.Name] {
				t.Fatalf("%s: expected time %d, got %d", ev.Name, next[ev.Name], ev.Time)
			}
			next[ev.Name]++
			total++
		}
	}
	if total != producers*perProducer {
		t.Fatalf("expected %d events, got %d", producers*perProducer, total)
	}
	if st := b.Stats(); st.Recorded != producers*perProducer || st.Dropped != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestBroadcasterRecordRacingCloseIsDeliveredOrDropped(t *testing.T) {
	const producers, perProducer = 4, 500

	_, opt := manualTicker()
	b := New(nil, ports.BroadcastPolicy{QueueLen: 2 * producers * perProducer}, opt)
	sub := &collectingSubscriber{}
	b.Attach(sub)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for n := 0; n < perProducer; n++ {
				b.Record(&domain.Sample{Name: fmt.Sprintf("p%d", p), Timestamp: int64(n), Value: n})
			}
		}(p)
	}
	b.Record(&domain.Sample{Name: "first", Value: 0})
	b.Close()
	wg.Wait()

	delivered := 0
	for _, raw := range sub.snapshot() {
		delivered += len(decodeFrame(t, raw).Events)
	}
	st := b.Stats()
	if st.Recorded != uint64(delivered) {
		t.Fatalf("recorded %d events but delivered %d", st.Recorded, delivered)
	}
	if st.Recorded+st.Dropped != producers*perProducer+1 {
		t.Fatalf("events unaccounted for: %+v", st)
	}
}
