package events

import "time"

// Type names an event.
type Type string

// Stream lifecycle events.
const (
	StreamConnected                Type = "streamConnected"
	StreamDisconnected             Type = "streamDisconnected"
	StreamReconnected              Type = "streamReconnected"
	StreamError                    Type = "streamError"
	ParseError                     Type = "parseError"
	StaleData                      Type = "staleData"
	HealthCheck                    Type = "healthCheck"
	MaxReconnectionAttemptsReached Type = "maxReconnectionAttemptsReached"
)

// Market data events.
const (
	Ticker    Type = "ticker"
	OrderBook Type = "orderbook"
	Trade     Type = "trade"
	Candle    Type = "candle"
)

// Connection pool events.
const (
	ConnectionAdded         Type = "connectionAdded"
	ConnectionRemoved       Type = "connectionRemoved"
	ConnectionLimitReached  Type = "connectionLimitReached"
	ChannelSubscription     Type = "channelSubscription"
	ChannelUnsubscription   Type = "channelUnsubscription"
	StaleConnectionsRemoved Type = "staleConnectionsRemoved"
	Metrics                 Type = "metrics"
)

// LifecycleTypes are the non-market-data event types.
var LifecycleTypes = []Type{
	StreamConnected, StreamDisconnected, StreamReconnected, StreamError,
	ParseError, StaleData, HealthCheck, MaxReconnectionAttemptsReached,
	ConnectionAdded, ConnectionRemoved, ConnectionLimitReached,
	ChannelSubscription, ChannelUnsubscription, StaleConnectionsRemoved, Metrics,
}

// MarketTypes are the normalized market data event types.
var MarketTypes = []Type{Ticker, OrderBook, Trade, Candle}

// Event is a single notification. Data holds one of the payload types below
// or, for market events, a model.Message.
type Event struct {
	Type  Type
	Topic string // stream topic, pool channel, or connection id
	Time  time.Time
	Data  any
}

// StreamStatus accompanies stream lifecycle events.
type StreamStatus struct {
	Topic   string
	Attempt int           // reconnect attempt number, 0 when not reconnecting
	Delay   time.Duration // scheduled backoff delay
	Code    int           // websocket close code, 0 if none
	Err     error
}

// ParseFailure accompanies parseError.
type ParseFailure struct {
	Topic string
	Kind  string
	Field string
	Err   error
}

// Staleness accompanies staleData.
type Staleness struct {
	Topic      string
	Age        time.Duration
	Threshold  time.Duration
	LastDataAt time.Time
}

// HealthReport accompanies healthCheck.
type HealthReport struct {
	Running bool
	Total   int
	Open    int
	Stale   int
	Ratio   float64
	Healthy bool
}

// ConnectionInfo accompanies connection add/remove/limit events.
type ConnectionInfo struct {
	ID     string
	UserID string
	IP     string
	Reason string // limit or removal reason
	Total  int    // pool size after the operation
}

// ChannelChange accompanies channel subscription events.
type ChannelChange struct {
	ConnID      string
	Channel     string
	Subscribers int
}

// StaleConnections accompanies staleConnectionsRemoved.
type StaleConnections struct {
	IDs     []string
	Timeout time.Duration
}

// PoolMetrics is the periodic pool snapshot.
type PoolMetrics struct {
	TotalConnections          int
	AuthenticatedConnections  int
	AnonymousConnections      int
	UniqueUsers               int
	TotalChannelSubscriptions int
	MessagesPerSecond         float64
	AverageConnectionDuration time.Duration
}
