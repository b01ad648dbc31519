package sink

import (
	"github.com/ghalamif/AegisStream/internal/domain"
	"github.com/ghalamif/AegisStream/internal/ports"
)

// NullSink discards everything. It is selected when no destination is
// configured.
type NullSink struct{}

func NewNullSink() *NullSink { return &NullSink{} }

func (NullSink) Name() string           { return "null" }
func (NullSink) Write(*domain.Sample)   {}
func (NullSink) WriteLine(string)       {}
func (NullSink) Flush()                 {}
func (NullSink) Close() error           { return nil }
func (NullSink) Stats() ports.SinkStats { return ports.SinkStats{Backend: "null"} }

var _ ports.Sink = NullSink{}
