package sink

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ghalamif/AegisStream/internal/domain"
	"github.com/ghalamif/AegisStream/internal/ports"
)

func TestTimescaleBackendWriteBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	backend := NewTimescaleBackend(db, "samples")
	batch := []byte("hid temp=21.5 1700000000000\nhid state=\"on\" 1700000000001\n")

	expectedQuery := regexp.QuoteMeta("INSERT INTO samples (ts, measurement, field, value) VALUES ($1,$2,$3,$4),($5,$6,$7,$8) ON CONFLICT (measurement, field, ts) DO NOTHING")
	mock.ExpectExec(expectedQuery).
		WithArgs(
			time.UnixMilli(1700000000000).UTC(), "hid", "temp", []byte("21.5"),
			time.UnixMilli(1700000000001).UTC(), "hid", "state", []byte(`"on"`),
		).
		WillReturnResult(sqlmock.NewResult(2, 2))

	if err := backend.WriteBatch(context.Background(), batch); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTimescaleBackendIdleSignal(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	backend := NewTimescaleBackend(db, "")
	if err := backend.WriteBatch(context.Background(), nil); err != nil {
		t.Fatalf("expected nil error for empty batch, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
	if backend.Name() != "timescaledb" {
		t.Fatalf("expected backend name timescaledb, got %s", backend.Name())
	}
}

func TestTimescaleBackendRejectsMalformedLine(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	backend := NewTimescaleBackend(db, "samples")
	err = backend.WriteBatch(context.Background(), []byte("garbage\n"))
	if !errors.Is(err, domain.ErrMalformedLine) {
		t.Fatalf("expected ErrMalformedLine, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTimescaleBackendFailureCountedByBuffer(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO samples").WillReturnError(errors.New("connection reset"))

	buf := NewBuffer(NewTimescaleBackend(db, "samples"), ports.BufferPolicy{})
	buf.Write(&domain.Sample{Name: "temp", Timestamp: 1, Value: 3})
	buf.Flush()

	st := buf.Stats()
	if st.ErrorCount != 1 || st.LastFlushErrAt == 0 {
		t.Fatalf("expected one recorded failure, got %+v", st)
	}
	if st.BufferedLines != 0 {
		t.Fatalf("buffer should be cleared after failed flush, got %d lines", st.BufferedLines)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestParseBatchKeepsMultiLineStringInOneRow(t *testing.T) {
	backend := &recordingBackend{}
	buf := NewBuffer(backend, ports.BufferPolicy{})
	buf.Write(&domain.Sample{Name: "temp", Timestamp: 1, Value: 20.5})
	buf.Write(&domain.Sample{Name: "log", Timestamp: 2, Value: "line1\nline2"})
	buf.Write(&domain.Sample{Name: "ok", Timestamp: 3, Value: true})

	if st := buf.Stats(); st.BufferedLines != 3 {
		t.Fatalf("expected 3 buffered lines, got %d", st.BufferedLines)
	}
	buf.Flush()

	batches, _ := backend.snapshot()
	if len(batches) != 1 || strings.Count(batches[0], "\n") != 3 {
		t.Fatalf("expected one batch of 3 lines, got %q", batches)
	}
	points, err := parseBatch([]byte(batches[0]))
	if err != nil {
		t.Fatalf("parse batch: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(points))
	}
	if points[1].Field != "log" || points[1].Value != "line1\nline2" {
		t.Fatalf("unexpected multi-line point %+v", points[1])
	}
}
