package ports

import (
	"context"
	"errors"

	"github.com/ghalamif/AegisStream/internal/domain"
)

// ErrMissingDestination is returned at construction time when a sink is
// selected without the destination it needs (URL, directory, DSN).
var ErrMissingDestination = errors.New("sink destination is required")

// Sink is a pluggable destination for serialized samples. Write and Flush
// never return errors: failures are absorbed, counted and logged.
type Sink interface {
	Name() string
	Write(s *domain.Sample)
	WriteLine(line string)
	Flush()
	Close() error
	Stats() SinkStats
}

// Backend performs the actual write of one buffered batch. An empty batch is
// the idle signal: backends may use it to release or rotate resources.
type Backend interface {
	Name() string
	WriteBatch(ctx context.Context, batch []byte) error
}

// SinkStats is a point-in-time snapshot of a sink's health. Timestamps are
// milliseconds since epoch, zero when the event never happened.
type SinkStats struct {
	Backend        string `json:"backend"`
	BufferedBytes  int    `json:"buffered_bytes"`
	BufferedLines  int    `json:"buffered_lines"`
	Capacity       int    `json:"capacity"`
	LastFlushOKAt  int64  `json:"last_flush_ok_at"`
	LastFlushErrAt int64  `json:"last_flush_err_at"`
	ErrorCount     uint64 `json:"error_count"`
	DroppedCount   uint64 `json:"dropped_count"`
	SentBytes      uint64 `json:"sent_bytes"`
	FlushCount     uint64 `json:"flush_count"`
}
