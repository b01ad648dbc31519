package sink

import (
	"database/sql"
	"fmt"
	"net/http"
	"strings"

	_ "github.com/lib/pq"
	"github.com/spf13/afero"

	"github.com/ghalamif/AegisStream/internal/adapters/observability"
	"github.com/ghalamif/AegisStream/internal/ports"
)

// Backend names accepted by Build.
const (
	BackendNetwork   = "network"
	BackendFile      = "file"
	BackendNull      = "null"
	BackendRing      = "ring"
	BackendTimescale = "timescale"
)

type RingConfig struct {
	Capacity int `yaml:"capacity"`
}

type TimescaleConfig struct {
	ConnString string `yaml:"conn_string"`
	Table      string `yaml:"table"`
}

// Config selects one backend and carries the settings of every backend.
type Config struct {
	Backend     string `yaml:"backend"`
	Measurement string `yaml:"measurement"`

	ports.BufferPolicy `yaml:",inline"`

	Network   NetworkConfig   `yaml:"network"`
	File      FileConfig      `yaml:"file"`
	Ring      RingConfig      `yaml:"ring"`
	Timescale TimescaleConfig `yaml:"timescale"`
}

// Deps are the optional collaborators a sink is built with. Zero values fall
// back to the real implementations.
type Deps struct {
	Obs        ports.Observability
	Clock      ports.Clock
	Fs         afero.Fs
	HTTPClient *http.Client
	DB         *sql.DB
}

// Build constructs the sink selected by cfg.Backend. Missing destinations are
// reported here rather than on the first flush.
func Build(cfg Config, deps Deps) (ports.Sink, error) {
	if deps.Obs == nil {
		deps.Obs = observability.NewLogObs(nil)
	}
	if deps.Clock == nil {
		deps.Clock = ports.RealClock{}
	}

	opts := []BufferOption{
		WithMeasurement(cfg.Measurement),
		WithClock(deps.Clock),
		WithObservability(deps.Obs),
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendNull:
		return NewNullSink(), nil
	case BackendRing:
		return NewRingSink(cfg.Ring.Capacity, cfg.Measurement, deps.Obs), nil
	case BackendNetwork:
		backend, err := NewNetworkBackend(cfg.Network, deps.HTTPClient)
		if err != nil {
			return nil, err
		}
		return NewBuffer(backend, cfg.BufferPolicy, opts...), nil
	case BackendFile:
		backend, err := NewFileBackend(cfg.File, deps.Fs, deps.Clock)
		if err != nil {
			return nil, err
		}
		return NewBuffer(backend, cfg.BufferPolicy, opts...), nil
	case BackendTimescale:
		db, owned := deps.DB, false
		if db == nil {
			if strings.TrimSpace(cfg.Timescale.ConnString) == "" {
				return nil, fmt.Errorf("timescale sink: %w", ports.ErrMissingDestination)
			}
			var err error
			db, err = sql.Open("postgres", cfg.Timescale.ConnString)
			if err != nil {
				return nil, fmt.Errorf("open timescale: %w", err)
			}
			owned = true
		}
		backend := NewTimescaleBackend(db, cfg.Timescale.Table)
		backend.ownsDB = owned
		return NewBuffer(backend, cfg.BufferPolicy, opts...), nil
	default:
		return nil, fmt.Errorf("unknown sink backend %q", cfg.Backend)
	}
}
