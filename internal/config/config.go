package config

import "time"

// StreamerConfig is the root configuration for a streamer instance.
type StreamerConfig struct {
	Instance InstanceConfig `yaml:"instance" envPrefix:"INSTANCE_"`
	Log      LogConfig      `yaml:"log" envPrefix:"LOG_"`
	Exchange ExchangeConfig `yaml:"exchange" envPrefix:"EXCHANGE_"`
	Pool     PoolConfig     `yaml:"pool" envPrefix:"POOL_"`
	Server   ServerConfig   `yaml:"server" envPrefix:"SERVER_"`
	Database DatabaseConfig `yaml:"database" envPrefix:"DATABASE_"`
	Writer   WriterConfig   `yaml:"writer" envPrefix:"WRITER_"`
	Metrics  MetricsConfig  `yaml:"metrics" envPrefix:"METRICS_"`
}

// InstanceConfig identifies this streamer.
type InstanceConfig struct {
	ID string `yaml:"id" env:"ID"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"FORMAT"` // text or json
}

// ExchangeConfig holds outbound stream manager settings.
type ExchangeConfig struct {
	Name                    string        `yaml:"name" env:"NAME"`
	BaseURL                 string        `yaml:"base_url" env:"BASE_URL"`
	RestURL                 string        `yaml:"rest_url" env:"REST_URL"`
	MaxReconnectionAttempts int           `yaml:"max_reconnection_attempts" env:"MAX_RECONNECTION_ATTEMPTS"`
	ReconnectionDelay       time.Duration `yaml:"reconnection_delay" env:"RECONNECTION_DELAY"`
	MaxReconnectionDelay    time.Duration `yaml:"max_reconnection_delay" env:"MAX_RECONNECTION_DELAY"`
	PingInterval            time.Duration `yaml:"ping_interval" env:"PING_INTERVAL"`
	ConnectionTimeout       time.Duration `yaml:"connection_timeout" env:"CONNECTION_TIMEOUT"`
	EnableHeartbeat         *bool         `yaml:"enable_heartbeat" env:"ENABLE_HEARTBEAT"`
	StaleThreshold          time.Duration `yaml:"stale_threshold" env:"STALE_THRESHOLD"`
	HealthCheckInterval     time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
	SubscribeRate           float64       `yaml:"subscribe_rate" env:"SUBSCRIBE_RATE"`
	SubscribeBurst          int           `yaml:"subscribe_burst" env:"SUBSCRIBE_BURST"`
	DefaultSymbols          []string      `yaml:"default_symbols" env:"DEFAULT_SYMBOLS" envSeparator:","`
	DefaultChannels         []string      `yaml:"default_channels" env:"DEFAULT_CHANNELS" envSeparator:","`
	DefaultTimeframes       []string      `yaml:"default_timeframes" env:"DEFAULT_TIMEFRAMES" envSeparator:","`
	ValidateSymbols         bool          `yaml:"validate_symbols" env:"VALIDATE_SYMBOLS"`
	SymbolRefreshInterval   time.Duration `yaml:"symbol_refresh_interval" env:"SYMBOL_REFRESH_INTERVAL"`
}

// HeartbeatEnabled reports whether keep-alive pings are on. Unset means on.
func (e ExchangeConfig) HeartbeatEnabled() bool {
	return e.EnableHeartbeat == nil || *e.EnableHeartbeat
}

// PoolConfig holds inbound connection pool limits and sweep periods.
type PoolConfig struct {
	MaxConnections        int           `yaml:"max_connections" env:"MAX_CONNECTIONS"`
	MaxConnectionsPerUser int           `yaml:"max_connections_per_user" env:"MAX_CONNECTIONS_PER_USER"`
	MaxConnectionsPerIP   int           `yaml:"max_connections_per_ip" env:"MAX_CONNECTIONS_PER_IP"`
	ConnectionTimeout     time.Duration `yaml:"connection_timeout" env:"CONNECTION_TIMEOUT"`
	HeartbeatInterval     time.Duration `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL"`
	CleanupInterval       time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
	MetricsInterval       time.Duration `yaml:"metrics_interval" env:"METRICS_INTERVAL"`
	RateLimitWindow       time.Duration `yaml:"rate_limit_window" env:"RATE_LIMIT_WINDOW"`
	RateLimitMax          int           `yaml:"rate_limit_max" env:"RATE_LIMIT_MAX"`
}

// ServerConfig holds the inbound WebSocket server settings.
type ServerConfig struct {
	Port         int           `yaml:"port" env:"PORT"`
	Path         string        `yaml:"path" env:"PATH"`
	ReadLimit    int64         `yaml:"read_limit" env:"READ_LIMIT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	PingInterval time.Duration `yaml:"ping_interval" env:"PING_INTERVAL"`
	SendBuffer   int           `yaml:"send_buffer" env:"SEND_BUFFER"`
}

// DatabaseConfig holds the optional audit database.
type DatabaseConfig struct {
	Enabled  bool     `yaml:"enabled" env:"ENABLED"`
	Postgres DBConfig `yaml:"postgres" envPrefix:"POSTGRES_"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	Name     string `yaml:"name" env:"NAME"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	SSLMode  string `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxConns int    `yaml:"max_conns" env:"MAX_CONNS"`
	MinConns int    `yaml:"min_conns" env:"MIN_CONNS"`
}

// WriterConfig holds audit writer batching settings.
type WriterConfig struct {
	BatchSize     int           `yaml:"batch_size" env:"BATCH_SIZE"`
	FlushInterval time.Duration `yaml:"flush_interval" env:"FLUSH_INTERVAL"`
	BufferSize    int           `yaml:"buffer_size" env:"BUFFER_SIZE"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Port int    `yaml:"port" env:"PORT"`
	Path string `yaml:"path" env:"PATH"`
}
