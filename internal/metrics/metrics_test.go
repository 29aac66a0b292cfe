package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rickgao/paperstream/internal/events"
	"github.com/rickgao/paperstream/internal/model"
)

func TestRecorder_StreamEvents(t *testing.T) {
	r := NewRecorder(nil)

	r.Observe(events.Event{Type: events.StreamConnected})
	r.Observe(events.Event{Type: events.StreamConnected})
	r.Observe(events.Event{Type: events.StreamDisconnected})
	r.Observe(events.Event{Type: events.MaxReconnectionAttemptsReached})
	r.Observe(events.Event{Type: events.ParseError, Data: events.ParseFailure{Kind: "ticker", Err: errors.New("bad")}})
	r.Observe(events.Event{Type: events.StaleData})

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"connected", testutil.ToFloat64(r.StreamEvents.WithLabelValues("streamConnected")), 2},
		{"disconnected", testutil.ToFloat64(r.StreamEvents.WithLabelValues("streamDisconnected")), 1},
		{"max attempts", testutil.ToFloat64(r.StreamEvents.WithLabelValues("maxReconnectionAttemptsReached")), 1},
		{"parse errors", testutil.ToFloat64(r.ParseErrors.WithLabelValues("ticker")), 1},
		{"stale", testutil.ToFloat64(r.StaleStreams), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestRecorder_HealthCheck(t *testing.T) {
	r := NewRecorder(nil)
	r.Observe(events.Event{Type: events.HealthCheck, Data: events.HealthReport{
		Running: true, Total: 5, Open: 4, Ratio: 0.8, Healthy: true,
	}})

	if v := testutil.ToFloat64(r.StreamsOpen); v != 4 {
		t.Errorf("streams_open = %v", v)
	}
	if v := testutil.ToFloat64(r.HealthRatio); v != 0.8 {
		t.Errorf("health_ratio = %v", v)
	}
	if v := testutil.ToFloat64(r.StreamsHealthy); v != 1 {
		t.Errorf("healthy = %v", v)
	}
}

func TestRecorder_MarketMessages(t *testing.T) {
	r := NewRecorder(nil)
	now := time.Now()

	r.Observe(events.Event{Type: events.Trade, Data: model.Trade{EventTime: now.Add(-40 * time.Millisecond), ReceivedAt: now}})
	r.Observe(events.Event{Type: events.Trade, Data: model.Trade{}})
	r.Observe(events.Event{Type: events.Ticker, Data: model.Ticker{}})

	if v := testutil.ToFloat64(r.MarketMessages.WithLabelValues("trade")); v != 2 {
		t.Errorf("trade messages = %v, want 2", v)
	}
	if v := testutil.ToFloat64(r.MarketMessages.WithLabelValues("ticker")); v != 1 {
		t.Errorf("ticker messages = %v, want 1", v)
	}
	// Only the trade with both timestamps is observed.
	if n := testutil.CollectAndCount(r.DeliveryLag); n != 1 {
		t.Errorf("lag series = %d, want 1", n)
	}
}

func TestRecorder_PoolEvents(t *testing.T) {
	r := NewRecorder(nil)

	r.Observe(events.Event{Type: events.ConnectionAdded})
	r.Observe(events.Event{Type: events.ConnectionLimitReached, Data: events.ConnectionInfo{Reason: "max_connections_per_ip"}})
	r.Observe(events.Event{Type: events.StaleConnectionsRemoved, Data: events.StaleConnections{IDs: []string{"a", "b"}}})
	r.Observe(events.Event{Type: events.ChannelSubscription})
	r.Observe(events.Event{Type: events.Metrics, Data: events.PoolMetrics{
		AuthenticatedConnections:  3,
		AnonymousConnections:      2,
		UniqueUsers:               2,
		TotalChannelSubscriptions: 7,
		MessagesPerSecond:         1.5,
		AverageConnectionDuration: 90 * time.Second,
	}})

	checks := map[string]struct{ got, want float64 }{
		"rejections": {testutil.ToFloat64(r.PoolRejections.WithLabelValues("max_connections_per_ip")), 1},
		"evictions":  {testutil.ToFloat64(r.PoolEvictions), 2},
		"removed":    {testutil.ToFloat64(r.PoolEvents.WithLabelValues("removed")), 2},
		"added":      {testutil.ToFloat64(r.PoolEvents.WithLabelValues("added")), 1},
		"subscribe":  {testutil.ToFloat64(r.ChannelChanges.WithLabelValues("subscribe")), 1},
		"auth":       {testutil.ToFloat64(r.PoolConnections.WithLabelValues("authenticated")), 3},
		"anon":       {testutil.ToFloat64(r.PoolConnections.WithLabelValues("anonymous")), 2},
		"rate":       {testutil.ToFloat64(r.PoolMessageRate), 1.5},
		"duration":   {testutil.ToFloat64(r.PoolAvgDuration), 90},
	}
	for name, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", name, c.got, c.want)
		}
	}
}

func TestRecorder_Handler(t *testing.T) {
	r := NewRecorder(nil)
	r.Observe(events.Event{Type: events.StreamConnected})

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `paperstream_stream_events_total{event="streamConnected"} 1`) {
		t.Errorf("metrics output missing stream counter:\n%s", body)
	}
}
