package sink

import (
	"sync"

	"github.com/ghalamif/AegisStream/internal/adapters/observability"
	"github.com/ghalamif/AegisStream/internal/domain"
	"github.com/ghalamif/AegisStream/internal/ports"
)

const DefaultRingCapacity = 1000

// RingSink keeps the most recent lines in memory, evicting the oldest once
// capacity is reached. It has no backend; Flush does nothing.
type RingSink struct {
	mu          sync.Mutex
	data        []string
	head        int
	size        int
	measurement string
	bytes       int
	evicted     uint64
	dropped     uint64
	obs         ports.Observability
}

func NewRingSink(capacity int, measurement string, obs ports.Observability) *RingSink {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	if measurement == "" {
		measurement = domain.DefaultMeasurement
	}
	if obs == nil {
		obs = observability.NewLogObs(nil)
	}
	return &RingSink{
		data:        make([]string, capacity),
		measurement: measurement,
		obs:         obs,
	}
}

func (r *RingSink) Name() string { return "ring" }

func (r *RingSink) Write(s *domain.Sample) {
	if s == nil {
		return
	}
	line, err := s.Line(r.measurement)
	if err != nil {
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
		r.obs.RecordDropped("serialization", s, err)
		return
	}
	r.WriteLine(line)
}

func (r *RingSink) WriteLine(line string) {
	if line == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	tail := (r.head + r.size) % len(r.data)
	if r.size == len(r.data) {
		r.bytes -= len(r.data[r.head])
		r.head = (r.head + 1) % len(r.data)
		r.evicted++
	} else {
		r.size++
	}
	r.data[tail] = line
	r.bytes += len(line)
}

func (r *RingSink) Flush() {}

func (r *RingSink) Close() error { return nil }

// Lines returns the retained lines, oldest first.
func (r *RingSink) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.data[(r.head+i)%len(r.data)]
	}
	return out
}

// Clear empties the ring without resetting the eviction counters.
func (r *RingSink) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.data {
		r.data[i] = ""
	}
	r.head, r.size, r.bytes = 0, 0, 0
}

func (r *RingSink) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Stats reports evictions as dropped lines.
func (r *RingSink) Stats() ports.SinkStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ports.SinkStats{
		Backend:       "ring",
		BufferedBytes: r.bytes,
		BufferedLines: r.size,
		Capacity:      len(r.data),
		DroppedCount:  r.evicted + r.dropped,
	}
}

var _ ports.Sink = (*RingSink)(nil)
