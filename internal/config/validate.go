package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/rickgao/paperstream/internal/model"
)

// Validate checks that all required fields are set and values are valid.
func (c *StreamerConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	if err := c.Exchange.validate(); err != nil {
		return err
	}
	if err := c.Pool.validate(); err != nil {
		return err
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return fmt.Errorf("server.path must start with '/', got %q", c.Server.Path)
	}
	if c.Server.SendBuffer < 1 {
		return errors.New("server.send_buffer must be >= 1")
	}

	if c.Database.Enabled {
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
		if c.Writer.BatchSize < 1 {
			return errors.New("writer.batch_size must be >= 1")
		}
		if c.Writer.BufferSize < c.Writer.BatchSize {
			return fmt.Errorf("writer.buffer_size (%d) cannot be below batch_size (%d)", c.Writer.BufferSize, c.Writer.BatchSize)
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}
	if c.Metrics.Port == c.Server.Port {
		return fmt.Errorf("metrics.port and server.port must differ, both %d", c.Metrics.Port)
	}

	return nil
}

func (e *ExchangeConfig) validate() error {
	u, err := url.Parse(e.BaseURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("exchange.base_url must be a ws:// or wss:// URL, got %q", e.BaseURL)
	}
	if e.ValidateSymbols {
		if u, err := url.Parse(e.RestURL); err != nil || u.Host == "" {
			return fmt.Errorf("exchange.rest_url must be an http(s) URL, got %q", e.RestURL)
		}
	}
	if e.MaxReconnectionAttempts < 0 {
		return errors.New("exchange.max_reconnection_attempts must be >= 0")
	}
	if e.ReconnectionDelay <= 0 {
		return errors.New("exchange.reconnection_delay must be > 0")
	}
	if e.MaxReconnectionDelay < e.ReconnectionDelay {
		return fmt.Errorf("exchange.max_reconnection_delay (%s) cannot be below reconnection_delay (%s)",
			e.MaxReconnectionDelay, e.ReconnectionDelay)
	}
	if e.StaleThreshold <= 0 {
		return errors.New("exchange.stale_threshold must be > 0")
	}
	if e.SubscribeRate < 0 {
		return errors.New("exchange.subscribe_rate must be >= 0")
	}

	for _, sym := range e.DefaultSymbols {
		if _, err := model.NewTopic(sym, string(model.ChannelTicker)); err != nil {
			return fmt.Errorf("exchange.default_symbols: %w", err)
		}
	}
	for _, ch := range e.Channels() {
		if _, err := model.NewTopic("btcusdt", ch); err != nil {
			return fmt.Errorf("exchange.default_channels: %w", err)
		}
	}
	return nil
}

// Channels returns the default channel specs, with one kline channel per
// default timeframe.
func (e ExchangeConfig) Channels() []string {
	out := make([]string, 0, len(e.DefaultChannels)+len(e.DefaultTimeframes))
	out = append(out, e.DefaultChannels...)
	for _, tf := range e.DefaultTimeframes {
		out = append(out, model.KlineChannel(tf))
	}
	return out
}

func (p *PoolConfig) validate() error {
	if p.MaxConnections < 1 {
		return errors.New("pool.max_connections must be >= 1")
	}
	if p.MaxConnectionsPerUser < 1 {
		return errors.New("pool.max_connections_per_user must be >= 1")
	}
	if p.MaxConnectionsPerIP < 1 {
		return errors.New("pool.max_connections_per_ip must be >= 1")
	}
	if p.ConnectionTimeout <= 0 {
		return errors.New("pool.connection_timeout must be > 0")
	}
	if p.RateLimitWindow <= 0 {
		return errors.New("pool.rate_limit_window must be > 0")
	}
	if p.RateLimitMax < 1 {
		return errors.New("pool.rate_limit_max must be >= 1")
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

// SlogLevel maps the configured level name to a slog.Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log.level must be debug, info, warn or error, got %q", l.Level)
	}
}
