// Package market tracks which configured symbols are trading on the exchange.
//
// The Symbol Registry:
//   - Validates configured symbols against exchangeInfo on startup
//   - Subscribes trading symbols on the stream manager
//   - Reconciles periodically and follows status changes (halt, resume)
//   - Bounds concurrent subscribe calls per reconcile pass
//   - Rolls back partially opened symbols and retries them sooner
package market
