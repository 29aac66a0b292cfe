package pool

import (
	"errors"
	"time"
)

// ErrUnknownConnection is returned for ids not in the pool.
var ErrUnknownConnection = errors.New("unknown connection")

// Admission rejection reasons, reported on connectionLimitReached.
const (
	LimitGlobal    = "max_connections"
	LimitPerUser   = "max_connections_per_user"
	LimitPerIP     = "max_connections_per_ip"
	LimitDuplicate = "duplicate_id"
)

// Removal reasons.
const (
	ReasonClosed   = "closed"
	ReasonTimeout  = "timeout"
	ReasonShutdown = "shutdown"
)

// Conn is a client socket as seen by the pool.
type Conn interface {
	ID() string
	UserID() string // empty for anonymous clients
	RemoteIP() string
	// Send queues data for the client. It must not block.
	Send(data []byte) error
	Close(code int, reason string) error
}

// Direction of a recorded message.
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "outbound"
	}
	return "inbound"
}

// Config configures the pool. It is immutable once the pool is built.
type Config struct {
	MaxConnections        int
	MaxConnectionsPerUser int
	MaxConnectionsPerIP   int
	ConnectionTimeout     time.Duration // idle time before eviction
	HeartbeatInterval     time.Duration // eviction sweep period
	CleanupInterval       time.Duration // index/window GC period
	MetricsInterval       time.Duration // metrics snapshot period
	RateLimitWindow       time.Duration
	RateLimitMax          int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConnections:        1000,
		MaxConnectionsPerUser: 10,
		MaxConnectionsPerIP:   20,
		ConnectionTimeout:     5 * time.Minute,
		HeartbeatInterval:     30 * time.Second,
		CleanupInterval:       60 * time.Second,
		MetricsInterval:       10 * time.Second,
		RateLimitWindow:       60 * time.Second,
		RateLimitMax:          100,
	}
}

// Info is a point-in-time view of one pooled connection.
type Info struct {
	ID               string
	UserID           string
	RemoteIP         string
	ConnectedAt      time.Time
	LastActivity     time.Time
	Channels         []string
	MessagesReceived int64
	MessagesSent     int64
	BytesReceived    int64
	BytesSent        int64
}

// Stats summarizes the pool indices.
type Stats struct {
	Connections   int
	Users         int
	IPs           int
	Channels      int
	Subscriptions int
}
