// Package pool implements the inbound Connection Pool.
//
// The Pool:
//   - Admits client sockets under global, per-user and per-IP caps
//   - Keeps the channel, user and IP indices consistent with each connection
//   - Gates inbound messages with a sliding-window rate limiter
//   - Evicts idle connections and publishes periodic metrics snapshots
//
// Every map is guarded by a single mutex so that removing a connection from
// all of its indices is one critical section. Socket writes and closes happen
// outside the lock.
package pool
