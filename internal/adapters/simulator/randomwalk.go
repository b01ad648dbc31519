// Package simulator provides producers that need no hardware.
package simulator

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ghalamif/AegisStream/internal/domain"
	"github.com/ghalamif/AegisStream/internal/ports"
)

type RandomWalkConfig struct {
	Names    []string      `yaml:"names"`
	Interval time.Duration `yaml:"interval"`
	Spread   float64       `yaml:"spread"`
	Seed     uint64        `yaml:"seed"`
}

func (c *RandomWalkConfig) ApplyDefaults() {
	if len(c.Names) == 0 {
		c.Names = []string{"walk"}
	}
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.Spread <= 0 {
		c.Spread = 1
	}
}

func (c *RandomWalkConfig) Validate() error {
	seen := make(map[string]struct{}, len(c.Names))
	for _, n := range c.Names {
		if n == "" {
			return errors.New("random walk names must not be empty")
		}
		if _, dup := seen[n]; dup {
			return fmt.Errorf("duplicate random walk name %q", n)
		}
		seen[n] = struct{}{}
	}
	return nil
}

// RandomWalk emits one sample per name on every interval. Each series starts
// somewhere in [0,100) and moves by at most Spread/2 per step.
type RandomWalk struct {
	cfg   RandomWalkConfig
	clock ports.Clock
	rng   *rand.Rand

	mu      sync.Mutex
	values  []float64
	stop    chan struct{}
	wg      sync.WaitGroup
	started bool
}

func NewRandomWalk(cfg RandomWalkConfig, clock ports.Clock) (*RandomWalk, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = ports.RealClock{}
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	values := make([]float64, len(cfg.Names))
	for i := range values {
		values[i] = rng.Float64() * 100
	}
	return &RandomWalk{cfg: cfg, clock: clock, rng: rng, values: values}, nil
}

func (w *RandomWalk) Start(out chan<- *domain.Sample) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return fmt.Errorf("random walk already started")
	}
	w.started = true
	w.stop = make(chan struct{})

	w.wg.Add(1)
	go w.run(out, w.stop)
	return nil
}

func (w *RandomWalk) Stop() error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = false
	close(w.stop)
	w.mu.Unlock()

	w.wg.Wait()
	return nil
}

func (w *RandomWalk) run(out chan<- *domain.Sample, stop <-chan struct{}) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for _, s := range w.Step() {
				select {
				case <-stop:
					return
				case out <- s:
				}
			}
		}
	}
}

// Step advances every series once and returns the new samples.
func (w *RandomWalk) Step() []*domain.Sample {
	w.mu.Lock()
	defer w.mu.Unlock()

	ts := w.clock.Now().UnixMilli()
	out := make([]*domain.Sample, len(w.cfg.Names))
	for i, name := range w.cfg.Names {
		w.values[i] += (w.rng.Float64() - 0.5) * w.cfg.Spread
		out[i] = &domain.Sample{Key: name, Name: name, Timestamp: ts, Value: w.values[i]}
	}
	return out
}

var _ ports.Collector = (*RandomWalk)(nil)
