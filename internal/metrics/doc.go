// Package metrics provides Prometheus metrics for monitoring.
//
// A Recorder consumes the event bus and keeps:
//   - Exchange stream lifecycle counters and health gauges
//   - Normalized message and parse error rates per feed kind
//   - Connection pool admissions, rejections, evictions and snapshots
//   - Channel subscription churn
package metrics
