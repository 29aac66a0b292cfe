package connection

import (
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/paperstream/internal/model"
)

// Errors
var (
	ErrNotConnected  = errors.New("not connected")
	ErrAlreadyClosed = errors.New("already closed")
	ErrNotRunning    = errors.New("stream manager not running")
)

// Close codes used by the manager.
const (
	CloseNormal   = websocket.CloseNormalClosure   // intentional unsubscribe
	CloseAbnormal = websocket.CloseAbnormalClosure // transport dropped without a close frame
)

// ConnectionError is a dial or transport failure for one topic.
type ConnectionError struct {
	Topic string
	Op    string // "dial", "wait"
	Err   error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Topic, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// CloseInfo describes how a connection ended.
type CloseInfo struct {
	Code int   // websocket close code; CloseAbnormal when no close frame was seen
	Err  error // nil for local closes
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // Full stream URL, e.g. wss://stream.binance.com:9443/ws/btcusdt@ticker
	PingInterval     time.Duration // Keep-alive ping period; 0 disables pings
	WriteTimeout     time.Duration // Write deadline for sends and control frames
	HandshakeTimeout time.Duration // Dial handshake limit
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval:     30 * time.Second,
		WriteTimeout:     5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		BufferSize:       1000,
	}
}

// ManagerConfig configures the stream Manager.
type ManagerConfig struct {
	Exchange                string        // Tag applied to normalized records
	BaseURL                 string        // Streams are dialed at BaseURL + "/" + topic
	MaxReconnectionAttempts int           // Consecutive failed reconnects before a stream is dropped
	ReconnectionDelay       time.Duration // Backoff base
	MaxReconnectionDelay    time.Duration // Backoff cap
	PingInterval            time.Duration // Heartbeat period
	ConnectionTimeout       time.Duration // Dial + handshake limit
	EnableHeartbeat         bool          // Send keep-alive pings while open
	StaleThreshold          time.Duration // Age after which an open stream is reported stale
	HealthCheckInterval     time.Duration // Staleness/health sweep period
	SubscribeRate           float64       // Dials per second; 0 = unlimited
	SubscribeBurst          int           // Dial burst size
	BufferSize              int           // Per-stream message buffer
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Exchange:                "binance",
		BaseURL:                 "wss://stream.binance.com:9443/ws",
		MaxReconnectionAttempts: 10,
		ReconnectionDelay:       1 * time.Second,
		MaxReconnectionDelay:    30 * time.Second,
		PingInterval:            30 * time.Second,
		ConnectionTimeout:       10 * time.Second,
		EnableHeartbeat:         true,
		StaleThreshold:          60 * time.Second,
		HealthCheckInterval:     30 * time.Second,
		SubscribeRate:           5,
		SubscribeBurst:          10,
		BufferSize:              1000,
	}
}

// State is the lifecycle state of a stream.
type State string

const (
	StateIdle               State = "idle"
	StateConnecting         State = "connecting"
	StateOpen               State = "open"
	StateReconnectScheduled State = "reconnect_scheduled"
	StateClosing            State = "closing"
	StateClosed             State = "closed"
	StateFailed             State = "failed"
)

// Handler receives every normalized message of a stream, in arrival order.
type Handler func(model.Message)

// StreamInfo is a point-in-time view of one stream.
type StreamInfo struct {
	Topic             string    `json:"topic"`
	State             State     `json:"state"`
	ReconnectAttempts int       `json:"reconnect_attempts"`
	ConnectedAt       time.Time `json:"connected_at,omitempty"`
	LastDataAt        time.Time `json:"last_data_at,omitempty"`
	Messages          int64     `json:"messages"`
	ParseErrors       int64     `json:"parse_errors"`
}

// ManagerStats provides statistics about the stream manager.
type ManagerStats struct {
	TotalStreams        int
	OpenStreams         int
	ReconnectingStreams int // scheduled or re-dialing after a drop
	MessagesReceived    int64
	ParseErrors         int64
	Reconnects          int64
}
