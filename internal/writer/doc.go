// Package writer persists lifecycle events to PostgreSQL.
//
// The audit writer consumes stream and pool lifecycle events from the bus
// (never market data) and appends them to the stream_events table:
//   - Rows are batched and inserted with pgx.Batch
//   - Flushes run through a circuit breaker so a down database is not
//     hammered; rows that fail to flush are retained up to BufferSize
//   - Append-only: rows are never updated
package writer
