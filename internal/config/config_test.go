package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-streamer
exchange:
  base_url: wss://testnet.binance.vision/ws
  default_symbols: [btcusdt, ethusdt]
  default_timeframes: [1m, 5m]
pool:
  max_connections_per_ip: 3
database:
  enabled: true
  postgres:
    host: localhost
    port: 5432
    name: test_db
    user: testuser
    password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-streamer" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-streamer")
	}
	if cfg.Exchange.BaseURL != "wss://testnet.binance.vision/ws" {
		t.Errorf("Exchange.BaseURL = %q", cfg.Exchange.BaseURL)
	}
	if !reflect.DeepEqual(cfg.Exchange.DefaultSymbols, []string{"btcusdt", "ethusdt"}) {
		t.Errorf("Exchange.DefaultSymbols = %v", cfg.Exchange.DefaultSymbols)
	}
	if cfg.Pool.MaxConnectionsPerIP != 3 {
		t.Errorf("Pool.MaxConnectionsPerIP = %d, want 3", cfg.Pool.MaxConnectionsPerIP)
	}
	if cfg.Database.Postgres.Host != "localhost" {
		t.Errorf("Database.Postgres.Host = %q, want %q", cfg.Database.Postgres.Host, "localhost")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "secret123")

	yaml := `
instance:
  id: test-streamer
database:
  postgres:
    host: localhost
    name: test_db
    user: testuser
    password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Postgres.Password != "secret123" {
		t.Errorf("Database.Postgres.Password = %q, want %q", cfg.Database.Postgres.Password, "secret123")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("PAPERSTREAM_POOL_MAX_CONNECTIONS", "50")
	t.Setenv("PAPERSTREAM_EXCHANGE_RECONNECTION_DELAY", "250ms")
	t.Setenv("PAPERSTREAM_EXCHANGE_DEFAULT_SYMBOLS", "solusdt,bnbusdt")
	t.Setenv("PAPERSTREAM_EXCHANGE_ENABLE_HEARTBEAT", "false")
	t.Setenv("PAPERSTREAM_DATABASE_POSTGRES_PASSWORD", "from-env")

	yaml := `
instance:
  id: test-streamer
exchange:
  default_symbols: [btcusdt]
pool:
  max_connections: 10
  max_connections_per_user: 2
database:
  postgres:
    password: from-yaml
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Pool.MaxConnections != 50 {
		t.Errorf("Pool.MaxConnections = %d, want env value 50", cfg.Pool.MaxConnections)
	}
	if cfg.Pool.MaxConnectionsPerUser != 2 {
		t.Errorf("Pool.MaxConnectionsPerUser = %d, want yaml value 2", cfg.Pool.MaxConnectionsPerUser)
	}
	if cfg.Exchange.ReconnectionDelay != 250*time.Millisecond {
		t.Errorf("Exchange.ReconnectionDelay = %v", cfg.Exchange.ReconnectionDelay)
	}
	if !reflect.DeepEqual(cfg.Exchange.DefaultSymbols, []string{"solusdt", "bnbusdt"}) {
		t.Errorf("Exchange.DefaultSymbols = %v", cfg.Exchange.DefaultSymbols)
	}
	if cfg.Exchange.HeartbeatEnabled() {
		t.Error("HeartbeatEnabled() = true, want false from env")
	}
	if cfg.Database.Postgres.Password != "from-env" {
		t.Errorf("Database.Postgres.Password = %q", cfg.Database.Postgres.Password)
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-streamer
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	// Check defaults were applied
	if cfg.Exchange.BaseURL != DefaultBaseURL {
		t.Errorf("Exchange.BaseURL = %q, want default %q", cfg.Exchange.BaseURL, DefaultBaseURL)
	}
	if cfg.Exchange.MaxReconnectionAttempts != DefaultMaxReconnectionAttempts {
		t.Errorf("Exchange.MaxReconnectionAttempts = %d, want %d", cfg.Exchange.MaxReconnectionAttempts, DefaultMaxReconnectionAttempts)
	}
	if !cfg.Exchange.HeartbeatEnabled() {
		t.Error("HeartbeatEnabled() = false, want default true")
	}
	if cfg.Exchange.SymbolRefreshInterval != DefaultSymbolRefreshInterval {
		t.Errorf("Exchange.SymbolRefreshInterval = %v, want %v", cfg.Exchange.SymbolRefreshInterval, DefaultSymbolRefreshInterval)
	}
	if cfg.Pool.MaxConnections != 1000 || cfg.Pool.MaxConnectionsPerUser != 10 || cfg.Pool.MaxConnectionsPerIP != 20 {
		t.Errorf("pool caps = %d/%d/%d, want 1000/10/20",
			cfg.Pool.MaxConnections, cfg.Pool.MaxConnectionsPerUser, cfg.Pool.MaxConnectionsPerIP)
	}
	if cfg.Pool.ConnectionTimeout != 5*time.Minute || cfg.Pool.RateLimitWindow != time.Minute || cfg.Pool.RateLimitMax != 100 {
		t.Errorf("pool timing = %+v", cfg.Pool)
	}
	if cfg.Database.Postgres.Port != DefaultDBPort {
		t.Errorf("Database.Postgres.Port = %d, want default %d", cfg.Database.Postgres.Port, DefaultDBPort)
	}
	if !reflect.DeepEqual(cfg.Exchange.DefaultChannels, DefaultChannels) {
		t.Errorf("Exchange.DefaultChannels = %v", cfg.Exchange.DefaultChannels)
	}
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Metrics.Port = %d, want default %d", cfg.Metrics.Port, DefaultMetricsPort)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestChannels(t *testing.T) {
	e := ExchangeConfig{
		DefaultChannels:   []string{"ticker", "depth20"},
		DefaultTimeframes: []string{"1m", "1h"},
	}
	want := []string{"ticker", "depth20", "kline_1m", "kline_1h"}
	if got := e.Channels(); !reflect.DeepEqual(got, want) {
		t.Errorf("Channels() = %v, want %v", got, want)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*StreamerConfig)
		wantErr string
	}{
		{
			name:    "valid defaults",
			mutate:  func(c *StreamerConfig) {},
			wantErr: "",
		},
		{
			name:    "missing instance id",
			mutate:  func(c *StreamerConfig) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "bad log level",
			mutate:  func(c *StreamerConfig) { c.Log.Level = "loud" },
			wantErr: `log.level must be debug, info, warn or error, got "loud"`,
		},
		{
			name:    "http base url",
			mutate:  func(c *StreamerConfig) { c.Exchange.BaseURL = "https://stream.binance.com" },
			wantErr: `exchange.base_url must be a ws:// or wss:// URL, got "https://stream.binance.com"`,
		},
		{
			name: "max delay below base",
			mutate: func(c *StreamerConfig) {
				c.Exchange.ReconnectionDelay = 5 * time.Second
				c.Exchange.MaxReconnectionDelay = time.Second
			},
			wantErr: "exchange.max_reconnection_delay (1s) cannot be below reconnection_delay (5s)",
		},
		{
			name:    "bad symbol",
			mutate:  func(c *StreamerConfig) { c.Exchange.DefaultSymbols = []string{"btc-usdt"} },
			wantErr: `exchange.default_symbols: invalid symbol "btc-usdt": must be alphanumeric`,
		},
		{
			name:    "bad timeframe",
			mutate:  func(c *StreamerConfig) { c.Exchange.DefaultTimeframes = []string{"7m"} },
			wantErr: `exchange.default_channels: invalid interval "7m": unsupported kline interval`,
		},
		{
			name:    "negative per-ip cap",
			mutate:  func(c *StreamerConfig) { c.Pool.MaxConnectionsPerIP = -1 },
			wantErr: "pool.max_connections_per_ip must be >= 1",
		},
		{
			name:    "database enabled without host",
			mutate:  func(c *StreamerConfig) { c.Database.Enabled = true },
			wantErr: "database.postgres.host is required",
		},
		{
			name: "min_conns exceeds max_conns",
			mutate: func(c *StreamerConfig) {
				c.Database.Enabled = true
				c.Database.Postgres = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 5, MinConns: 10}
			},
			wantErr: "database.postgres.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name:    "database disabled skips db checks",
			mutate:  func(c *StreamerConfig) { c.Database.Postgres = DBConfig{} },
			wantErr: "",
		},
		{
			name:    "port clash",
			mutate:  func(c *StreamerConfig) { c.Metrics.Port = c.Server.Port },
			wantErr: "metrics.port and server.port must differ, both 8080",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &StreamerConfig{}
			cfg.applyDefaults()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range tests {
		got, err := LogConfig{Level: in}.SlogLevel()
		if err != nil || got != want {
			t.Errorf("SlogLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
