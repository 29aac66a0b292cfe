// Package events is the notification surface of the stream layer.
//
// Producers (the stream manager and the connection pool) publish typed
// Events on a Bus. Each Subscription owns an unbounded FIFO queue, so a slow
// consumer never blocks a producer and events from one producer goroutine are
// delivered in publish order. Delivery is at most once per subscription.
package events
