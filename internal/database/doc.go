// Package database opens the PostgreSQL pool used by the audit writer.
//
// The database is optional: the streamer runs without it when
// database.enabled is false, and lifecycle events then live only in logs and
// metrics.
package database
