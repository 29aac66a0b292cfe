// Package api provides a client for the exchange REST API.
//
// Only public, unauthenticated endpoints are used:
//   - /api/v3/ping: connectivity check
//   - /api/v3/time: server clock
//   - /api/v3/exchangeInfo: symbol metadata, used to validate symbols before
//     opening streams
package api
