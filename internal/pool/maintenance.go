package pool

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/paperstream/internal/events"
)

// Start launches the heartbeat, cleanup and metrics sweeps.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return errors.New("pool already running")
	}
	ctx, p.cancel = context.WithCancel(ctx)

	p.every(ctx, p.cfg.HeartbeatInterval, func() { p.HeartbeatSweep() })
	p.every(ctx, p.cfg.CleanupInterval, func() { p.CleanupSweep() })
	p.every(ctx, p.cfg.MetricsInterval, p.publishMetrics)

	p.logger.Info("connection pool started",
		"max_connections", p.cfg.MaxConnections,
		"max_per_user", p.cfg.MaxConnectionsPerUser,
		"max_per_ip", p.cfg.MaxConnectionsPerIP,
	)
	return nil
}

func (p *Pool) every(ctx context.Context, interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

// Stop cancels the sweeps, then closes and removes every connection.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			p.logger.Warn("shutdown timeout, forcing close")
		}
	}

	p.mu.Lock()
	ids := make([]string, 0, len(p.conns))
	for id := range p.conns {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		p.Disconnect(id, websocket.CloseGoingAway, ReasonShutdown)
	}

	p.logger.Info("connection pool stopped", "closed", len(ids))
	return nil
}

// HeartbeatSweep evicts connections idle for longer than ConnectionTimeout
// and returns their ids. All evictions are reported in one
// staleConnectionsRemoved event.
func (p *Pool) HeartbeatSweep() []string {
	now := p.now()

	p.mu.Lock()
	var stale []*entry
	for _, e := range p.conns {
		if now.Sub(e.lastActivity) > p.cfg.ConnectionTimeout {
			stale = append(stale, e)
		}
	}
	for _, e := range stale {
		p.removeLocked(e)
	}
	p.checkInvariants()
	p.mu.Unlock()

	if len(stale) == 0 {
		return nil
	}

	ids := make([]string, 0, len(stale))
	for _, e := range stale {
		ids = append(ids, e.id)
		if err := e.conn.Close(websocket.CloseGoingAway, "connection timeout"); err != nil {
			p.logger.Debug("close failed", "conn_id", e.id, "error", err)
		}
	}

	p.logger.Info("stale connections removed", "count", len(ids))
	p.bus.Publish(events.Event{
		Type: events.StaleConnectionsRemoved,
		Data: events.StaleConnections{IDs: ids, Timeout: p.cfg.ConnectionTimeout},
	})
	return ids
}

// CleanupSweep prunes empty index entries and expired rate-window data.
// It returns the number of pruned index entries and window timestamps.
func (p *Pool) CleanupSweep() (entries, timestamps int) {
	cutoff := p.now().Add(-p.cfg.RateLimitWindow)

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, idx := range []map[string]map[string]struct{}{p.channels, p.byUser, p.byIP} {
		for key, set := range idx {
			if len(set) == 0 {
				delete(idx, key)
				entries++
			}
		}
	}

	for _, e := range p.conns {
		before := len(e.window)
		e.window = pruneWindow(e.window, cutoff)
		timestamps += before - len(e.window)
		// Release backing arrays left over from bursts.
		if cap(e.window) > 64 && len(e.window) < cap(e.window)/4 {
			e.window = append([]time.Time(nil), e.window...)
		}
	}
	p.checkInvariants()

	if entries > 0 || timestamps > 0 {
		p.logger.Debug("pool cleanup", "index_entries", entries, "window_entries", timestamps)
	}
	return entries, timestamps
}

// MetricsSnapshot computes the pool metrics. MessagesPerSecond covers the
// time since the last periodic metrics event; the counters are not reset.
func (p *Pool) MetricsSnapshot() events.PoolMetrics {
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metricsLocked(now)
}

// publishMetrics emits a metrics event and starts a new rate interval.
// Only the metrics sweep calls it.
func (p *Pool) publishMetrics() {
	now := p.now()

	p.mu.Lock()
	m := p.metricsLocked(now)
	p.messageCount = 0
	p.lastSnapshot = now
	p.mu.Unlock()

	p.bus.Publish(events.Event{Type: events.Metrics, Data: m})
}

func (p *Pool) metricsLocked(now time.Time) events.PoolMetrics {
	m := events.PoolMetrics{
		TotalConnections: len(p.conns),
		UniqueUsers:      len(p.byUser),
	}
	var totalAge time.Duration
	for _, e := range p.conns {
		if e.userID != "" {
			m.AuthenticatedConnections++
		} else {
			m.AnonymousConnections++
		}
		m.TotalChannelSubscriptions += len(e.channels)
		totalAge += now.Sub(e.connectedAt)
	}
	if len(p.conns) > 0 {
		m.AverageConnectionDuration = totalAge / time.Duration(len(p.conns))
	}
	if elapsed := now.Sub(p.lastSnapshot).Seconds(); elapsed > 0 {
		m.MessagesPerSecond = float64(p.messageCount) / elapsed
	}
	return m
}
