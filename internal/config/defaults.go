package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInstanceID              = "paperstream"
	DefaultLogLevel                = "info"
	DefaultLogFormat               = "text"
	DefaultExchangeName            = "binance"
	DefaultBaseURL                 = "wss://stream.binance.com:9443/ws"
	DefaultRestURL                 = "https://api.binance.com"
	DefaultMaxReconnectionAttempts = 10
	DefaultReconnectionDelay       = 1 * time.Second
	DefaultMaxReconnectionDelay    = 30 * time.Second
	DefaultPingInterval            = 30 * time.Second
	DefaultConnectionTimeout       = 10 * time.Second
	DefaultStaleThreshold          = 60 * time.Second
	DefaultHealthCheckInterval     = 30 * time.Second
	DefaultSubscribeRate           = 5.0
	DefaultSubscribeBurst          = 10
	DefaultSymbolRefreshInterval   = 5 * time.Minute
	DefaultMaxConnections          = 1000
	DefaultMaxConnectionsPerUser   = 10
	DefaultMaxConnectionsPerIP     = 20
	DefaultClientTimeout           = 5 * time.Minute
	DefaultHeartbeatInterval       = 30 * time.Second
	DefaultCleanupInterval         = 60 * time.Second
	DefaultPoolMetricsInterval     = 10 * time.Second
	DefaultRateLimitWindow         = 60 * time.Second
	DefaultRateLimitMax            = 100
	DefaultServerPort              = 8080
	DefaultServerPath              = "/ws"
	DefaultReadLimit               = 64 * 1024
	DefaultWriteTimeout            = 10 * time.Second
	DefaultServerPingInterval      = 30 * time.Second
	DefaultSendBuffer              = 256
	DefaultDBPort                  = 5432
	DefaultDBSSLMode               = "prefer"
	DefaultMaxConns                = 10
	DefaultMinConns                = 2
	DefaultBatchSize               = 500
	DefaultFlushInterval           = 2 * time.Second
	DefaultBufferSize              = 10000
	DefaultMetricsPort             = 9090
	DefaultMetricsPath             = "/metrics"
)

// DefaultChannels are subscribed for every default symbol when none are set.
var DefaultChannels = []string{"ticker", "trade", "depth20"}

func (c *StreamerConfig) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}

	// Exchange defaults
	e := &c.Exchange
	if e.Name == "" {
		e.Name = DefaultExchangeName
	}
	if e.BaseURL == "" {
		e.BaseURL = DefaultBaseURL
	}
	if e.RestURL == "" {
		e.RestURL = DefaultRestURL
	}
	if e.MaxReconnectionAttempts == 0 {
		e.MaxReconnectionAttempts = DefaultMaxReconnectionAttempts
	}
	if e.ReconnectionDelay == 0 {
		e.ReconnectionDelay = DefaultReconnectionDelay
	}
	if e.MaxReconnectionDelay == 0 {
		e.MaxReconnectionDelay = DefaultMaxReconnectionDelay
	}
	if e.PingInterval == 0 {
		e.PingInterval = DefaultPingInterval
	}
	if e.ConnectionTimeout == 0 {
		e.ConnectionTimeout = DefaultConnectionTimeout
	}
	if e.StaleThreshold == 0 {
		e.StaleThreshold = DefaultStaleThreshold
	}
	if e.HealthCheckInterval == 0 {
		e.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if e.SubscribeRate == 0 {
		e.SubscribeRate = DefaultSubscribeRate
	}
	if e.SubscribeBurst == 0 {
		e.SubscribeBurst = DefaultSubscribeBurst
	}
	if e.SymbolRefreshInterval == 0 {
		e.SymbolRefreshInterval = DefaultSymbolRefreshInterval
	}
	if len(e.DefaultChannels) == 0 && len(e.DefaultTimeframes) == 0 {
		e.DefaultChannels = append([]string(nil), DefaultChannels...)
	}

	// Pool defaults
	p := &c.Pool
	if p.MaxConnections == 0 {
		p.MaxConnections = DefaultMaxConnections
	}
	if p.MaxConnectionsPerUser == 0 {
		p.MaxConnectionsPerUser = DefaultMaxConnectionsPerUser
	}
	if p.MaxConnectionsPerIP == 0 {
		p.MaxConnectionsPerIP = DefaultMaxConnectionsPerIP
	}
	if p.ConnectionTimeout == 0 {
		p.ConnectionTimeout = DefaultClientTimeout
	}
	if p.HeartbeatInterval == 0 {
		p.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if p.CleanupInterval == 0 {
		p.CleanupInterval = DefaultCleanupInterval
	}
	if p.MetricsInterval == 0 {
		p.MetricsInterval = DefaultPoolMetricsInterval
	}
	if p.RateLimitWindow == 0 {
		p.RateLimitWindow = DefaultRateLimitWindow
	}
	if p.RateLimitMax == 0 {
		p.RateLimitMax = DefaultRateLimitMax
	}

	// Server defaults
	s := &c.Server
	if s.Port == 0 {
		s.Port = DefaultServerPort
	}
	if s.Path == "" {
		s.Path = DefaultServerPath
	}
	if s.ReadLimit == 0 {
		s.ReadLimit = DefaultReadLimit
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.PingInterval == 0 {
		s.PingInterval = DefaultServerPingInterval
	}
	if s.SendBuffer == 0 {
		s.SendBuffer = DefaultSendBuffer
	}

	// Database defaults
	applyDBDefaults(&c.Database.Postgres)

	// Writer defaults
	if c.Writer.BatchSize == 0 {
		c.Writer.BatchSize = DefaultBatchSize
	}
	if c.Writer.FlushInterval == 0 {
		c.Writer.FlushInterval = DefaultFlushInterval
	}
	if c.Writer.BufferSize == 0 {
		c.Writer.BufferSize = DefaultBufferSize
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
