package writer

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// WriterConfig contains configuration for batch writers.
type WriterConfig struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// BufferSize caps rows held across failed flushes. Oldest rows are
	// dropped past it.
	BufferSize int
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     500,
		FlushInterval: 2 * time.Second,
		BufferSize:    10000,
	}
}

// DB is the subset of pgxpool.Pool the writer needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// eventRow represents a row to be inserted into the stream_events table.
type eventRow struct {
	EventType  string
	Topic      string
	OccurredAt time.Time
	Detail     []byte // JSONB
}

// WriterMetrics holds metrics for a writer.
type WriterMetrics struct {
	Inserts  int64
	Errors   int64
	Flushes  int64
	Rejected int64 // flushes refused while the breaker was open
	Dropped  int64 // rows discarded past BufferSize
}

// Schema creates the audit table.
const Schema = `
CREATE TABLE IF NOT EXISTS stream_events (
	id          BIGSERIAL PRIMARY KEY,
	event_type  TEXT        NOT NULL,
	topic       TEXT        NOT NULL DEFAULT '',
	occurred_at TIMESTAMPTZ NOT NULL,
	detail      JSONB       NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS stream_events_type_time_idx ON stream_events (event_type, occurred_at DESC);
`
