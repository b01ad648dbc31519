package sink

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ghalamif/AegisStream/internal/domain"
	"github.com/ghalamif/AegisStream/internal/ports"
)

const DefaultTimescaleTable = "samples"

// TimescaleBackend stores each buffered line as one row. The schema it expects:
//
//	CREATE TABLE samples (
//	    ts          TIMESTAMPTZ NOT NULL,
//	    measurement TEXT        NOT NULL,
//	    field       TEXT        NOT NULL,
//	    value       JSONB       NOT NULL,
//	    UNIQUE (measurement, field, ts)
//	);
type TimescaleBackend struct {
	db        *sql.DB
	tableName string
	ownsDB    bool
}

func NewTimescaleBackend(db *sql.DB, table string) *TimescaleBackend {
	if table == "" {
		table = DefaultTimescaleTable
	}
	return &TimescaleBackend{db: db, tableName: table}
}

func (t *TimescaleBackend) Name() string { return "timescaledb" }

func (t *TimescaleBackend) WriteBatch(ctx context.Context, batch []byte) error {
	if len(batch) == 0 {
		return nil
	}

	points, err := parseBatch(batch)
	if err != nil {
		return err
	}

	// INSERT ... ON CONFLICT DO NOTHING keeps retried batches idempotent.
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(t.tableName)
	b.WriteString(" (ts, measurement, field, value) VALUES ")

	args := make([]any, 0, len(points)*4)
	for i, p := range points {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d)",
			len(args)+1, len(args)+2, len(args)+3, len(args)+4))
		val, err := json.Marshal(p.Value)
		if err != nil {
			return fmt.Errorf("marshal value: %w", err)
		}
		args = append(args,
			time.UnixMilli(p.Timestamp).UTC(),
			p.Measurement,
			p.Field,
			val,
		)
	}

	b.WriteString(" ON CONFLICT (measurement, field, ts) DO NOTHING")

	_, err = t.db.ExecContext(ctx, b.String(), args...)
	return err
}

// Close releases the database handle when the backend opened it. A handle
// passed in by the caller stays open.
func (t *TimescaleBackend) Close() error {
	if !t.ownsDB {
		return nil
	}
	return t.db.Close()
}

func parseBatch(batch []byte) ([]domain.Point, error) {
	var points []domain.Point
	sc := bufio.NewScanner(bytes.NewReader(batch))
	sc.Buffer(make([]byte, 0, 64*1024), len(batch)+1)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		p, err := domain.ParseLine(line)
		if err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, sc.Err()
}

var _ ports.Backend = (*TimescaleBackend)(nil)
