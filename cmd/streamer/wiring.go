package main

import (
	"github.com/rickgao/paperstream/internal/config"
	"github.com/rickgao/paperstream/internal/connection"
	"github.com/rickgao/paperstream/internal/market"
	"github.com/rickgao/paperstream/internal/pool"
	"github.com/rickgao/paperstream/internal/server"
	"github.com/rickgao/paperstream/internal/writer"
)

func managerConfig(e config.ExchangeConfig) connection.ManagerConfig {
	mc := connection.DefaultManagerConfig()
	mc.Exchange = e.Name
	mc.BaseURL = e.BaseURL
	mc.MaxReconnectionAttempts = e.MaxReconnectionAttempts
	mc.ReconnectionDelay = e.ReconnectionDelay
	mc.MaxReconnectionDelay = e.MaxReconnectionDelay
	mc.PingInterval = e.PingInterval
	mc.ConnectionTimeout = e.ConnectionTimeout
	mc.EnableHeartbeat = e.HeartbeatEnabled()
	mc.StaleThreshold = e.StaleThreshold
	mc.HealthCheckInterval = e.HealthCheckInterval
	mc.SubscribeRate = e.SubscribeRate
	mc.SubscribeBurst = e.SubscribeBurst
	return mc
}

func registryConfig(e config.ExchangeConfig) market.Config {
	rc := market.DefaultConfig()
	rc.Channels = e.Channels()
	rc.RefreshInterval = e.SymbolRefreshInterval
	return rc
}

func poolConfig(p config.PoolConfig) pool.Config {
	return pool.Config{
		MaxConnections:        p.MaxConnections,
		MaxConnectionsPerUser: p.MaxConnectionsPerUser,
		MaxConnectionsPerIP:   p.MaxConnectionsPerIP,
		ConnectionTimeout:     p.ConnectionTimeout,
		HeartbeatInterval:     p.HeartbeatInterval,
		CleanupInterval:       p.CleanupInterval,
		MetricsInterval:       p.MetricsInterval,
		RateLimitWindow:       p.RateLimitWindow,
		RateLimitMax:          p.RateLimitMax,
	}
}

func serverConfig(s config.ServerConfig) server.Config {
	return server.Config{
		Port:         s.Port,
		Path:         s.Path,
		ReadLimit:    s.ReadLimit,
		WriteTimeout: s.WriteTimeout,
		PingInterval: s.PingInterval,
		SendBuffer:   s.SendBuffer,
	}
}

func writerConfig(w config.WriterConfig) writer.WriterConfig {
	return writer.WriterConfig{
		BatchSize:     w.BatchSize,
		FlushInterval: w.FlushInterval,
		BufferSize:    w.BufferSize,
	}
}
