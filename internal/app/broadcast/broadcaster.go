// Package broadcast fans recorded samples out to live subscribers. Samples
// are coalesced and delivered as one frame per tick so a burst of producer
// activity costs every subscriber a single send.
package broadcast

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ghalamif/AegisStream/internal/adapters/observability"
	"github.com/ghalamif/AegisStream/internal/domain"
	"github.com/ghalamif/AegisStream/internal/ports"
)

const (
	DefaultInterval    = 100 * time.Millisecond
	DefaultSendTimeout = 2 * time.Second
	DefaultQueueLen    = 4096
)

// Ticker is the tick source of the drain loop. Tests swap it for a manual one.
type Ticker struct {
	C    <-chan time.Time
	Stop func()
}

func realTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, Stop: t.Stop}
}

// Stats is a snapshot of broadcaster activity.
type Stats struct {
	Subscribers int    `json:"subscribers"`
	Recorded    uint64 `json:"recorded"`
	Dropped     uint64 `json:"dropped"`
	Frames      uint64 `json:"frames"`
	SendErrors  uint64 `json:"send_errors"`
}

type Option func(*Broadcaster)

func WithObservability(obs ports.Observability) Option {
	return func(b *Broadcaster) {
		if obs != nil {
			b.obs = obs
		}
	}
}

// WithTicker replaces the wall-clock ticker that drives frame delivery.
func WithTicker(newTicker func(time.Duration) *Ticker) Option {
	return func(b *Broadcaster) {
		if newTicker != nil {
			b.newTicker = newTicker
		}
	}
}

// Broadcaster forwards every recorded sample to the sink and queues its JSON
// event for the next tick. The pending events are owned by the drain loop;
// producers only ever hand them over through a bounded channel. Attaches
// made while the loop runs go through it as well, so a new subscriber's
// state frame always precedes its first tick frame.
type Broadcaster struct {
	sink      ports.Sink
	policy    ports.BroadcastPolicy
	obs       ports.Observability
	newTicker func(time.Duration) *Ticker

	events   chan []byte
	attaches chan ports.Subscriber

	stateMu sync.RWMutex
	last    map[string][]byte

	subMu sync.RWMutex
	subs  map[string]ports.Subscriber

	runMu   sync.RWMutex
	started bool
	closed  bool
	stop    chan struct{}
	done    chan struct{}

	recorded   atomic.Uint64
	dropped    atomic.Uint64
	frames     atomic.Uint64
	sendErrors atomic.Uint64
}

func New(sink ports.Sink, policy ports.BroadcastPolicy, opts ...Option) *Broadcaster {
	if policy.Interval <= 0 {
		policy.Interval = DefaultInterval
	}
	if policy.SendTimeout <= 0 {
		policy.SendTimeout = DefaultSendTimeout
	}
	if policy.QueueLen <= 0 {
		policy.QueueLen = DefaultQueueLen
	}
	b := &Broadcaster{
		sink:      sink,
		policy:    policy,
		obs:       observability.NewLogObs(nil),
		newTicker: realTicker,
		events:    make(chan []byte, policy.QueueLen),
		attaches:  make(chan ports.Subscriber),
		last:      make(map[string][]byte),
		subs:      make(map[string]ports.Subscriber),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Record never blocks on subscribers. The sink write may block for as long as
// a synchronous flush takes.
func (b *Broadcaster) Record(s *domain.Sample) {
	if s == nil {
		return
	}
	if !b.ensureStarted() {
		b.drop("broadcaster_closed", s, nil)
		return
	}

	ev, err := s.Event()
	if err != nil {
		b.drop("serialization", s, err)
		return
	}

	key := s.Key
	if key == "" {
		key = s.Label()
	}
	b.stateMu.Lock()
	b.last[key] = ev
	b.stateMu.Unlock()

	if b.sink != nil {
		b.sink.Write(s)
	}

	// Close may have run since ensureStarted. The read lock keeps the loop
	// from exiting until the event is in the channel.
	b.runMu.RLock()
	defer b.runMu.RUnlock()
	if b.closed {
		b.drop("broadcaster_closed", s, nil)
		return
	}
	select {
	case b.events <- ev:
		b.recorded.Add(1)
		b.obs.IncCounter(observability.SamplesRecorded, 1)
	default:
		b.drop("broadcast_queue_full", s, nil)
	}
}

// Attach adds sub to the fan-out set and pushes the last known value of
// every key to it.
func (b *Broadcaster) Attach(sub ports.Subscriber) {
	if sub == nil {
		return
	}

	b.runMu.RLock()
	running := b.started && !b.closed
	b.runMu.RUnlock()
	if running {
		select {
		case b.attaches <- sub:
			return
		case <-b.done:
		}
	}

	// No loop to order against: nothing recorded yet, or already closed.
	frame := b.CurrentState()
	b.addSubscriber(sub)
	if frame != nil {
		go b.deliver([]ports.Subscriber{sub}, frame)
	}
}

func (b *Broadcaster) addSubscriber(sub ports.Subscriber) {
	b.subMu.Lock()
	b.subs[sub.ID()] = sub
	n := len(b.subs)
	b.subMu.Unlock()
	b.obs.SetGauge(observability.Subscribers, float64(n))
	b.obs.LogInfo("subscriber_attached", ports.Field{Key: "id", Value: sub.ID()})
}

// Detach removes the subscriber with the given id. Unknown ids are ignored.
func (b *Broadcaster) Detach(id string) {
	b.subMu.Lock()
	_, ok := b.subs[id]
	delete(b.subs, id)
	n := len(b.subs)
	b.subMu.Unlock()
	if !ok {
		return
	}
	b.obs.SetGauge(observability.Subscribers, float64(n))
	b.obs.LogInfo("subscriber_detached", ports.Field{Key: "id", Value: id})
}

// CurrentState returns a frame holding the last event of every key, ordered
// by key, or nil when nothing has been recorded yet.
func (b *Broadcaster) CurrentState() []byte {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	if len(b.last) == 0 {
		return nil
	}
	keys := make([]string, 0, len(b.last))
	for k := range b.last {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	events := make([][]byte, 0, len(keys))
	for _, k := range keys {
		events = append(events, b.last[k])
	}
	return buildFrame(events)
}

func (b *Broadcaster) Stats() Stats {
	b.subMu.RLock()
	n := len(b.subs)
	b.subMu.RUnlock()
	return Stats{
		Subscribers: n,
		Recorded:    b.recorded.Load(),
		Dropped:     b.dropped.Load(),
		Frames:      b.frames.Load(),
		SendErrors:  b.sendErrors.Load(),
	}
}

// Close stops the drain loop after delivering whatever is still pending. It
// does not close the sink.
func (b *Broadcaster) Close() {
	b.runMu.Lock()
	if b.closed {
		b.runMu.Unlock()
		return
	}
	b.closed = true
	started := b.started
	b.runMu.Unlock()

	close(b.stop)
	if started {
		<-b.done
	}
}

func (b *Broadcaster) ensureStarted() bool {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.closed {
		return false
	}
	if !b.started {
		b.started = true
		go b.run()
	}
	return true
}

func (b *Broadcaster) run() {
	defer close(b.done)

	ticker := b.newTicker(b.policy.Interval)
	defer ticker.Stop()

	pending := make([][]byte, 0, 64)
	for {
		select {
		case <-b.stop:
			pending = b.drain(pending)
			if len(pending) > 0 {
				b.broadcast(buildFrame(pending))
			}
			return
		case ev := <-b.events:
			pending = b.appendPending(pending, ev)
		case sub := <-b.attaches:
			frame := b.CurrentState()
			b.addSubscriber(sub)
			if frame != nil {
				b.deliver([]ports.Subscriber{sub}, frame)
			}
		case <-ticker.C:
			pending = b.drain(pending)
			if len(pending) == 0 {
				continue
			}
			b.broadcast(buildFrame(pending))
			for i := range pending {
				pending[i] = nil
			}
			pending = pending[:0]
		}
	}
}

// drain moves everything already handed over by producers into pending so a
// tick never leaves behind events recorded before it fired.
func (b *Broadcaster) drain(pending [][]byte) [][]byte {
	for {
		select {
		case ev := <-b.events:
			pending = b.appendPending(pending, ev)
		default:
			return pending
		}
	}
}

func (b *Broadcaster) appendPending(pending [][]byte, ev []byte) [][]byte {
	if len(pending) >= b.policy.QueueLen {
		b.drop("broadcast_pending_full", nil, nil)
		return pending
	}
	return append(pending, ev)
}

func (b *Broadcaster) broadcast(frame []byte) {
	b.subMu.RLock()
	subs := make([]ports.Subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.subMu.RUnlock()
	if len(subs) == 0 {
		return
	}

	start := time.Now()
	b.deliver(subs, frame)
	b.frames.Add(1)
	b.obs.IncCounter(observability.FramesSent, 1)
	b.obs.ObserveLatency(observability.BroadcastSendLatency, time.Since(start).Seconds())
}

// deliver sends frame to every sub concurrently and waits at most
// SendTimeout for them.
func (b *Broadcaster) deliver(subs []ports.Subscriber, frame []byte) {
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub ports.Subscriber) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), b.policy.SendTimeout)
			defer cancel()
			if err := sub.Send(ctx, frame); err != nil {
				b.sendFailed(sub, err)
			}
		}(sub)
	}

	sent := make(chan struct{})
	go func() {
		wg.Wait()
		close(sent)
	}()

	timer := time.NewTimer(b.policy.SendTimeout)
	defer timer.Stop()
	select {
	case <-sent:
	case <-timer.C:
		b.obs.LogError("broadcast_send_slow", context.DeadlineExceeded,
			ports.Field{Key: "subscribers", Value: len(subs)})
	}
}

func (b *Broadcaster) sendFailed(sub ports.Subscriber, err error) {
	b.sendErrors.Add(1)
	b.obs.IncCounter(observability.SubscriberSendErrors, 1)
	if errors.Is(err, ports.ErrSubscriberClosed) {
		b.Detach(sub.ID())
		return
	}
	b.obs.LogError("subscriber_send_failed", err, ports.Field{Key: "id", Value: sub.ID()})
}

func (b *Broadcaster) drop(reason string, s *domain.Sample, err error) {
	b.dropped.Add(1)
	b.obs.RecordDropped(reason, s, err)
}

// buildFrame wraps already encoded events as {"events":[...]}.
func buildFrame(events [][]byte) []byte {
	size := len(`{"events":[]}`) + len(events)
	for _, ev := range events {
		size += len(ev)
	}
	var buf bytes.Buffer
	buf.Grow(size)
	buf.WriteString(`{"events":[`)
	for i, ev := range events {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(ev)
	}
	buf.WriteString(`]}`)
	return buf.Bytes()
}
