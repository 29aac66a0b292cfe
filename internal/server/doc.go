// Package server exposes the inbound client surface.
//
// Routes (gorilla/mux):
//   - GET {path}: WebSocket upgrade; clients subscribe to market channels
//   - GET /health: exchange stream health and pool totals
//   - GET /streams: per-stream snapshots
//   - GET /metrics: Prometheus exposition, when a handler is supplied
//
// Each upgraded socket is admitted into the connection pool before any frame
// is read. A Relay fans normalized market events from the bus out to pool
// channels named "<type>:<SYMBOL>" (candles add ":<interval>").
package server
