package connection

import (
	"time"

	"github.com/rickgao/paperstream/internal/events"
)

// HealthyRatio is the minimum share of open streams for IsHealthy.
const HealthyRatio = 0.8

// healthLoop runs CheckHealth every HealthCheckInterval until stop closes.
func (m *Manager) healthLoop(stop <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.CheckHealth()
		}
	}
}

// CheckHealth runs one staleness sweep. It emits staleData for every open
// stream whose newest data is older than StaleThreshold, then a healthCheck
// with the aggregate report. Staleness never triggers a reconnect.
func (m *Manager) CheckHealth() events.HealthReport {
	now := m.now()

	m.mu.Lock()
	report := m.reportLocked()
	var stale []events.Staleness
	if m.cfg.StaleThreshold > 0 {
		for _, s := range m.streams {
			if s.state != StateOpen {
				continue
			}
			ref := s.freshness()
			if age := now.Sub(ref); age > m.cfg.StaleThreshold {
				stale = append(stale, events.Staleness{
					Topic:      s.key,
					Age:        age,
					Threshold:  m.cfg.StaleThreshold,
					LastDataAt: ref,
				})
			}
		}
	}
	m.mu.Unlock()

	report.Stale = len(stale)
	for _, st := range stale {
		m.logger.Warn("stale stream", "topic", st.Topic, "age", st.Age)
		m.bus.Publish(events.Event{Type: events.StaleData, Topic: st.Topic, Data: st})
	}
	m.bus.Publish(events.Event{Type: events.HealthCheck, Data: report})

	return report
}

// HealthReport computes the aggregate health without emitting events.
func (m *Manager) HealthReport() events.HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reportLocked()
}

// IsHealthy reports whether the manager is running and at least 80% of the
// tracked streams are open. No streams counts as healthy.
func (m *Manager) IsHealthy() bool {
	return m.HealthReport().Healthy
}

func (m *Manager) reportLocked() events.HealthReport {
	open := 0
	for _, s := range m.streams {
		if s.state == StateOpen {
			open++
		}
	}
	ratio, healthy := healthRatio(m.running, open, len(m.streams))
	return events.HealthReport{
		Running: m.running,
		Total:   len(m.streams),
		Open:    open,
		Ratio:   ratio,
		Healthy: healthy,
	}
}

func healthRatio(running bool, open, total int) (float64, bool) {
	if total == 0 {
		return 1, running
	}
	ratio := float64(open) / float64(total)
	return ratio, running && ratio >= HealthyRatio
}
