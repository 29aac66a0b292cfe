package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/paperstream/internal/connection"
	"github.com/rickgao/paperstream/internal/events"
	"github.com/rickgao/paperstream/internal/model"
	"github.com/rickgao/paperstream/internal/pool"
)

type fakeStreams struct {
	report  events.HealthReport
	streams []connection.StreamInfo
}

func (f *fakeStreams) HealthReport() events.HealthReport { return f.report }
func (f *fakeStreams) Streams() []connection.StreamInfo  { return f.streams }

type testEnv struct {
	server  *Server
	pool    *pool.Pool
	streams *fakeStreams
	http    *httptest.Server
}

func newTestEnv(t *testing.T, pcfg pool.Config) *testEnv {
	t.Helper()

	bus := events.NewBus(nil)
	p := pool.New(pcfg, bus, nil)
	streams := &fakeStreams{report: events.HealthReport{Running: true, Total: 1, Open: 1, Ratio: 1, Healthy: true}}

	cfg := DefaultConfig()
	cfg.PingInterval = time.Second
	cfg.WriteTimeout = time.Second
	s := New(cfg, p, streams, nil)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		p.Stop(context.Background())
		ts.Close()
		bus.Close()
	})
	return &testEnv{server: s, pool: p, streams: streams, http: ts}
}

func (e *testEnv) dial(t *testing.T, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func send(t *testing.T, ws *websocket.Conn, f Frame) {
	t.Helper()
	if err := ws.WriteJSON(f); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func readReply(t *testing.T, ws *websocket.Conn) Reply {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var r Reply
	if err := ws.ReadJSON(&r); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	return r
}

func TestServer_SubscribeAndRelay(t *testing.T) {
	env := newTestEnv(t, pool.DefaultConfig())
	ws := env.dial(t, nil)

	send(t, ws, Frame{Action: ActionSubscribe, Channel: "trade:btcusdt"})
	r := readReply(t, ws)
	if r.Type != ReplySubscribed || r.Channel != "trade:BTCUSDT" {
		t.Fatalf("reply = %+v, want subscribed to trade:BTCUSDT", r)
	}

	relay := NewRelay(env.pool, nil)
	n := relay.Forward(events.Event{
		Type: events.Trade,
		Data: model.Trade{Exchange: "binance", Symbol: "BTCUSDT", Price: 42000.5, Quantity: 0.1},
	})
	if n != 1 {
		t.Fatalf("Forward delivered to %d clients, want 1", n)
	}

	// Unrelated channel reaches nobody.
	if n := relay.Forward(events.Event{Type: events.Trade, Data: model.Trade{Symbol: "ETHUSDT"}}); n != 0 {
		t.Errorf("Forward to unsubscribed channel delivered to %d", n)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env2 struct {
		Type    string      `json:"type"`
		Channel string      `json:"channel"`
		Data    model.Trade `json:"data"`
	}
	if err := ws.ReadJSON(&env2); err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	if env2.Type != "trade" || env2.Channel != "trade:BTCUSDT" {
		t.Errorf("envelope = %s %s", env2.Type, env2.Channel)
	}
	if env2.Data.Price != 42000.5 || env2.Data.Symbol != "BTCUSDT" {
		t.Errorf("data = %+v", env2.Data)
	}

	forwarded, delivered := relay.Stats()
	if forwarded != 2 || delivered != 1 {
		t.Errorf("relay stats = %d/%d, want 2/1", forwarded, delivered)
	}
}

func TestServer_Unsubscribe(t *testing.T) {
	env := newTestEnv(t, pool.DefaultConfig())
	ws := env.dial(t, nil)

	send(t, ws, Frame{Action: ActionSubscribe, Channel: "candle:btcusdt:1m"})
	readReply(t, ws)
	if got := env.pool.Subscribers("candle:BTCUSDT:1m"); len(got) != 1 {
		t.Fatalf("subscribers = %v", got)
	}

	send(t, ws, Frame{Action: ActionUnsubscribe, Channel: "candle:BTCUSDT:1m"})
	if r := readReply(t, ws); r.Type != ReplyUnsubscribed {
		t.Fatalf("reply = %+v", r)
	}
	if got := env.pool.Subscribers("candle:BTCUSDT:1m"); len(got) != 0 {
		t.Errorf("subscribers after unsubscribe = %v", got)
	}
}

func TestServer_BadFrames(t *testing.T) {
	env := newTestEnv(t, pool.DefaultConfig())
	ws := env.dial(t, nil)

	tests := []struct {
		name  string
		frame string
	}{
		{"malformed json", `{"action":`},
		{"unknown action", `{"action":"dance"}`},
		{"bad channel", `{"action":"subscribe","channel":"depth:btcusdt"}`},
		{"bad unsubscribe channel", `{"action":"unsubscribe","channel":"candle:btcusdt"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ws.WriteMessage(websocket.TextMessage, []byte(tt.frame)); err != nil {
				t.Fatal(err)
			}
			if r := readReply(t, ws); r.Type != ReplyError || r.Message == "" {
				t.Errorf("reply = %+v, want error", r)
			}
		})
	}

	// The socket survives bad frames.
	send(t, ws, Frame{Action: ActionPing})
	if r := readReply(t, ws); r.Type != ReplyPong {
		t.Errorf("reply = %+v, want pong", r)
	}
}

func TestServer_RateLimit(t *testing.T) {
	cfg := pool.DefaultConfig()
	cfg.RateLimitMax = 2
	env := newTestEnv(t, cfg)
	ws := env.dial(t, nil)

	want := []string{ReplyPong, ReplyPong, ReplyError}
	for i, w := range want {
		send(t, ws, Frame{Action: ActionPing})
		if r := readReply(t, ws); r.Type != w {
			t.Errorf("frame %d reply = %q, want %q", i, r.Type, w)
		}
	}

	// The limited frame is not processed: no subscription happens.
	send(t, ws, Frame{Action: ActionSubscribe, Channel: "trade:btcusdt"})
	if r := readReply(t, ws); r.Type != ReplyError {
		t.Errorf("reply = %+v, want error", r)
	}
	if got := env.pool.Subscribers("trade:BTCUSDT"); len(got) != 0 {
		t.Errorf("rate limited subscribe took effect: %v", got)
	}
}

func TestServer_AdmissionRejected(t *testing.T) {
	cfg := pool.DefaultConfig()
	cfg.MaxConnectionsPerIP = 1
	env := newTestEnv(t, cfg)

	env.dial(t, nil)
	waitFor(t, "first connection", func() bool { return env.pool.Len() == 1 })

	ws := env.dial(t, nil)
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseTryAgainLater) {
		t.Fatalf("read error = %v, want close 1013", err)
	}
	if env.pool.Len() != 1 {
		t.Errorf("pool size = %d, want 1", env.pool.Len())
	}
}

func TestServer_IdentityHeaders(t *testing.T) {
	env := newTestEnv(t, pool.DefaultConfig())

	h := http.Header{}
	h.Set(UserHeader, "alice")
	h.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	env.dial(t, h)
	env.dial(t, nil)

	waitFor(t, "two connections", func() bool { return env.pool.Len() == 2 })
	st := env.pool.Stats()
	if st.Users != 1 {
		t.Errorf("users = %d, want 1", st.Users)
	}
	if st.IPs != 2 {
		t.Errorf("ips = %d, want 2", st.IPs)
	}
}

func TestServer_ClientCloseRemovesConnection(t *testing.T) {
	env := newTestEnv(t, pool.DefaultConfig())
	ws := env.dial(t, nil)

	send(t, ws, Frame{Action: ActionSubscribe, Channel: "ticker:btcusdt"})
	readReply(t, ws)

	ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	ws.Close()

	waitFor(t, "removal", func() bool { return env.pool.Len() == 0 })
	if got := env.pool.Subscribers("ticker:BTCUSDT"); len(got) != 0 {
		t.Errorf("subscribers after close = %v", got)
	}
	if err := env.pool.Verify(); err != nil {
		t.Error(err)
	}
}

func TestServer_PoolStopClosesClients(t *testing.T) {
	env := newTestEnv(t, pool.DefaultConfig())
	ws := env.dial(t, nil)
	waitFor(t, "connection", func() bool { return env.pool.Len() == 1 })

	env.pool.Stop(context.Background())

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("read error = %v, want close 1001", err)
	}
}

func TestServer_Health(t *testing.T) {
	env := newTestEnv(t, pool.DefaultConfig())

	tests := []struct {
		name       string
		report     events.HealthReport
		wantCode   int
		wantStatus string
	}{
		{"healthy", events.HealthReport{Running: true, Total: 5, Open: 4, Ratio: 0.8, Healthy: true}, http.StatusOK, "healthy"},
		{"degraded", events.HealthReport{Running: true, Total: 5, Open: 3, Ratio: 0.6}, http.StatusServiceUnavailable, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.streams.report = tt.report

			rec := httptest.NewRecorder()
			env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			var resp HealthResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if resp.Status != tt.wantStatus || resp.Streams.Open != tt.report.Open {
				t.Errorf("response = %+v", resp)
			}
			if rec.Header().Get("X-Request-ID") == "" {
				t.Error("missing X-Request-ID")
			}
		})
	}
}

func TestServer_Streams(t *testing.T) {
	env := newTestEnv(t, pool.DefaultConfig())
	env.streams.streams = []connection.StreamInfo{{Topic: "btcusdt@trade", State: connection.StateOpen}}

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/streams", nil))

	var got []connection.StreamInfo
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Topic != "btcusdt@trade" {
		t.Errorf("streams = %+v", got)
	}
}

func TestServer_MetricsRoute(t *testing.T) {
	p := pool.New(pool.DefaultConfig(), nil, nil)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	with := New(Config{}, p, &fakeStreams{}, nil, WithMetricsHandler(metrics))
	rec := httptest.NewRecorder()
	with.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("with handler: %d %q", rec.Code, rec.Body.String())
	}

	without := New(Config{}, p, &fakeStreams{}, nil)
	rec = httptest.NewRecorder()
	without.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("without handler: status %d, want 404", rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		remoteAddr string
		want       string
	}{
		{"forwarded", "203.0.113.7", "10.0.0.1:5000", "203.0.113.7"},
		{"forwarded chain", " 203.0.113.7 , 10.0.0.2", "10.0.0.1:5000", "203.0.113.7"},
		{"remote addr", "", "192.0.2.1:5000", "192.0.2.1"},
		{"no port", "", "192.0.2.1", "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := clientIP(r); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
