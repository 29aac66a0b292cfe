package connection

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/paperstream/internal/events"
)

func TestHealthRatio(t *testing.T) {
	tests := []struct {
		name        string
		running     bool
		open, total int
		wantRatio   float64
		wantHealthy bool
	}{
		{"idle", true, 0, 0, 1, true},
		{"idle stopped", false, 0, 0, 1, false},
		{"all open", true, 5, 5, 1, true},
		{"4 of 5", true, 4, 5, 0.8, true},
		{"3 of 5", true, 3, 5, 0.6, false},
		{"4 of 5 stopped", false, 4, 5, 0.8, false},
		{"8 of 10", true, 8, 10, 0.8, true},
		{"7 of 10", true, 7, 10, 0.7, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ratio, healthy := healthRatio(tt.running, tt.open, tt.total)
			if ratio != tt.wantRatio {
				t.Errorf("ratio = %v, want %v", ratio, tt.wantRatio)
			}
			if healthy != tt.wantHealthy {
				t.Errorf("healthy = %v, want %v", healthy, tt.wantHealthy)
			}
		})
	}
}

func TestManager_IsHealthy(t *testing.T) {
	m, dialer, _ := newTestManager(t, testManagerConfig())
	ctx := context.Background()

	if !m.IsHealthy() {
		t.Error("running manager with no streams should be healthy")
	}

	var topics []string
	for i := 0; i < 5; i++ {
		topic := fmt.Sprintf("sym%dusdt@ticker", i)
		topics = append(topics, topic)
		if err := m.Subscribe(ctx, topic, nil); err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
	}

	dialer.latest(topics[0]).drop(CloseAbnormal)
	waitFor(t, "one stream down", func() bool { return m.HealthReport().Open == 4 })
	if !m.IsHealthy() {
		t.Errorf("4 of 5 open: IsHealthy = false, report %+v", m.HealthReport())
	}

	dialer.latest(topics[1]).drop(CloseAbnormal)
	waitFor(t, "two streams down", func() bool { return m.HealthReport().Open == 3 })
	if m.IsHealthy() {
		t.Errorf("3 of 5 open: IsHealthy = true, report %+v", m.HealthReport())
	}
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestManager_CheckHealthEmitsStaleData(t *testing.T) {
	clock := &fakeClock{now: time.Now()}

	cfg := testManagerConfig()
	cfg.StaleThreshold = time.Minute

	dialer := newFakeDialer()
	bus := events.NewBus(nil)
	defer bus.Close()
	m := NewManager(cfg, bus, nil, WithClientFactory(dialer.factory), WithClock(clock.Now))
	m.Start(context.Background())
	defer m.Stop(context.Background())

	sub := bus.Subscribe(events.StaleData, events.HealthCheck)

	for _, topic := range []string{"btcusdt@trade", "ethusdt@trade"} {
		if err := m.Subscribe(context.Background(), topic, nil); err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
	}

	// Nothing is stale right after open.
	report := m.CheckHealth()
	if report.Stale != 0 || report.Total != 2 || !report.Healthy {
		t.Errorf("fresh report = %+v", report)
	}
	if ev := nextEvent(t, sub); ev.Type != events.HealthCheck {
		t.Fatalf("expected healthCheck, got %s", ev.Type)
	}

	clock.Advance(2 * time.Minute)

	// btcusdt receives data "now"; ethusdt stays silent since open.
	c := dialer.latest("btcusdt@trade")
	c.msgs <- TimestampedMessage{Data: []byte(`{"e":"trade","s":"BTCUSDT","p":"1","q":"1","m":true}`), ReceivedAt: clock.Now()}
	waitFor(t, "trade delivered", func() bool {
		info, _ := streamInfo(m, "btcusdt@trade")
		return info.Messages == 1
	})

	report = m.CheckHealth()
	if report.Stale != 1 {
		t.Errorf("Stale = %d, want 1", report.Stale)
	}
	// Stale streams still count as open.
	if !report.Healthy || report.Open != 2 {
		t.Errorf("report = %+v, want healthy with 2 open", report)
	}

	ev := nextEvent(t, sub)
	if ev.Type != events.StaleData || ev.Topic != "ethusdt@trade" {
		t.Fatalf("expected staleData for ethusdt@trade, got %s %s", ev.Type, ev.Topic)
	}
	st := ev.Data.(events.Staleness)
	if st.Age != 2*time.Minute || st.Threshold != time.Minute {
		t.Errorf("staleness = %+v", st)
	}
	if ev := nextEvent(t, sub); ev.Type != events.HealthCheck {
		t.Errorf("expected healthCheck after staleData, got %s", ev.Type)
	}

	// Staleness is observational only.
	if n := dialer.dials("ethusdt@trade"); n != 1 {
		t.Errorf("dials = %d, want 1", n)
	}
}

func TestManager_HealthLoopRuns(t *testing.T) {
	cfg := testManagerConfig()
	cfg.HealthCheckInterval = 10 * time.Millisecond

	bus := events.NewBus(nil)
	defer bus.Close()
	sub := bus.Subscribe(events.HealthCheck)

	m := NewManager(cfg, bus, nil, WithClientFactory(newFakeDialer().factory))
	m.Start(context.Background())

	ev := nextEvent(t, sub)
	if r := ev.Data.(events.HealthReport); !r.Running || !r.Healthy {
		t.Errorf("report = %+v", r)
	}

	m.Stop(context.Background())
	time.Sleep(30 * time.Millisecond)
	for sub.Len() > 0 {
		sub.TryReceive()
	}
	time.Sleep(30 * time.Millisecond)
	if n := sub.Len(); n != 0 {
		t.Errorf("%d health checks after Stop", n)
	}
}
