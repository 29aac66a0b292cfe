// Package connection implements the outbound side of the transport layer.
//
// The stream Manager:
//   - Holds exactly one WebSocket per exchange topic (<symbol>@<channel>)
//   - Normalizes every frame and publishes typed events on the bus
//   - Reconnects abnormally closed streams with capped exponential backoff
//   - Gives up after MaxReconnectionAttempts and drops the stream
//   - Sweeps open streams for stale data and reports aggregate health
package connection
