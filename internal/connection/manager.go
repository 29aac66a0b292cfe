package connection

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/rickgao/paperstream/internal/events"
	"github.com/rickgao/paperstream/internal/model"
	"github.com/rickgao/paperstream/internal/normalize"
)

// Manager owns the exchange streams, one per topic.
type Manager struct {
	cfg       ManagerConfig
	bus       *events.Bus
	logger    *slog.Logger
	backoff   Backoff
	newClient ClientFactory
	now       func() time.Time
	limiter   *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	streams    map[string]*stream
	running    bool
	stopHealth chan struct{}

	messages    atomic.Int64
	parseErrors atomic.Int64
	reconnects  atomic.Int64
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClientFactory replaces the WebSocket client constructor.
func WithClientFactory(f ClientFactory) Option {
	return func(m *Manager) { m.newClient = f }
}

// WithClock replaces the time source used for staleness.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a stream manager publishing on bus.
func NewManager(cfg ManagerConfig, bus *events.Bus, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if bus == nil {
		bus = events.NewBus(logger)
	}

	limit := rate.Inf
	if cfg.SubscribeRate > 0 {
		limit = rate.Limit(cfg.SubscribeRate)
	}
	burst := cfg.SubscribeBurst
	if burst < 1 {
		burst = 1
	}

	m := &Manager{
		cfg:       cfg,
		bus:       bus,
		logger:    logger,
		backoff:   Backoff{Base: cfg.ReconnectionDelay, Max: cfg.MaxReconnectionDelay},
		newClient: NewClient,
		now:       time.Now,
		limiter:   rate.NewLimiter(limit, burst),
		streams:   make(map[string]*stream),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start enables subscriptions and the health sweep.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return errors.New("stream manager already running")
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.running = true
	m.stopHealth = make(chan struct{})

	if m.cfg.HealthCheckInterval > 0 {
		m.wg.Add(1)
		go m.healthLoop(m.stopHealth)
	}

	m.logger.Info("stream manager started",
		"base_url", m.cfg.BaseURL,
		"heartbeat", m.cfg.EnableHeartbeat,
	)
	return nil
}

// Stop cancels every pending reconnect and the health sweep, then closes all
// sockets with a normal closure.
func (m *Manager) Stop(ctx context.Context) error {
	m.logger.Info("stopping stream manager")

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	close(m.stopHealth)

	clients := make([]Client, 0, len(m.streams))
	for key, s := range m.streams {
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		if s.client != nil {
			clients = append(clients, s.client)
			s.client = nil
		}
		s.state = StateClosed
		delete(m.streams, key)
	}
	m.mu.Unlock()

	// Aborts dials that are still in flight.
	m.cancel()

	for _, c := range clients {
		c.Close(CloseNormal)
	}

	// Wait for goroutines with timeout
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, forcing close")
	}

	m.logger.Info("stream manager stopped", "closed", len(clients))
	return nil
}

// Subscribe opens a stream for topic and feeds every normalized message to
// handler. Subscribing to a topic that is already tracked is a no-op. When
// the first dial fails the stream stays tracked with a reconnect scheduled
// and the ConnectionError is returned.
func (m *Manager) Subscribe(ctx context.Context, topic string, handler Handler) error {
	t, err := model.ParseTopic(topic)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrNotRunning
	}
	if _, exists := m.streams[t.String()]; exists {
		m.mu.Unlock()
		m.logger.Warn("already subscribed", "topic", t.String())
		return nil
	}
	s := newStream(t, handler, m.logger)
	s.state = StateConnecting
	m.streams[s.key] = s
	m.mu.Unlock()

	err = m.dial(ctx, s)
	switch {
	case err == nil, errors.Is(err, errStreamGone):
		return nil
	case errors.Is(err, ErrNotRunning):
		return err
	}

	// A failed first dial is retried on the backoff schedule like any drop.
	// The error is still returned so batch callers can roll back.
	var evs []events.Event
	m.mu.Lock()
	if m.streams[s.key] == s && s.state == StateConnecting {
		// Never opened: skip the streamDisconnected event.
		evs = m.afterCloseLocked(s, CloseInfo{Code: CloseAbnormal, Err: err})[1:]
	}
	m.mu.Unlock()

	m.publish(evs)
	return err
}

// SubscribeSymbolComplete subscribes every channel of symbol concurrently.
// Any failure fails the whole call; streams that opened or are waiting to
// redial stay tracked and the caller is expected to clean up with
// UnsubscribeAll.
func (m *Manager) SubscribeSymbolComplete(ctx context.Context, symbol string, channels []string, handler Handler) error {
	topics := make([]model.Topic, 0, len(channels))
	for _, ch := range channels {
		t, err := model.NewTopic(symbol, ch)
		if err != nil {
			return err
		}
		topics = append(topics, t)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range topics {
		key := t.String()
		g.Go(func() error {
			return m.Subscribe(gctx, key, handler)
		})
	}
	return g.Wait()
}

// Unsubscribe closes a stream with a normal closure and forgets it.
// Unknown topics are ignored.
func (m *Manager) Unsubscribe(topic string) error {
	t, err := model.ParseTopic(topic)
	if err != nil {
		return err
	}
	m.unsubscribe(t.String())
	return nil
}

// UnsubscribeAll drops every stream of symbol and returns how many were closed.
func (m *Manager) UnsubscribeAll(symbol string) int {
	symbol = strings.ToLower(symbol)

	m.mu.Lock()
	var keys []string
	for key, s := range m.streams {
		if s.topic.Symbol == symbol {
			keys = append(keys, key)
		}
	}
	m.mu.Unlock()

	n := 0
	for _, key := range keys {
		if m.unsubscribe(key) {
			n++
		}
	}
	return n
}

func (m *Manager) unsubscribe(key string) bool {
	m.mu.Lock()
	s, ok := m.streams[key]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.streams, key)
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	client := s.client
	s.client = nil
	s.state = StateClosed
	m.mu.Unlock()

	if client != nil {
		client.Close(CloseNormal)
	}

	s.logger.Info("unsubscribed")
	m.bus.Publish(events.Event{
		Type:  events.StreamDisconnected,
		Topic: key,
		Data:  events.StreamStatus{Topic: key, Code: CloseNormal},
	})
	return true
}

// errStreamGone means the stream was removed while its dial was in flight.
var errStreamGone = errors.New("stream removed during dial")

// dial connects s and, on success, moves it to open and starts its reader.
func (m *Manager) dial(ctx context.Context, s *stream) error {
	if m.cfg.ConnectionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ConnectionTimeout)
		defer cancel()
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return &ConnectionError{Topic: s.key, Op: "wait", Err: err}
	}

	client := m.newClient(m.clientConfig(s.key), s.logger)
	if err := client.Connect(ctx); err != nil {
		return &ConnectionError{Topic: s.key, Op: "dial", Err: err}
	}

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		client.Close(CloseNormal)
		return ErrNotRunning
	}
	if m.streams[s.key] != s || s.state != StateConnecting {
		m.mu.Unlock()
		client.Close(CloseNormal)
		return errStreamGone
	}
	s.client = client
	s.gen++
	gen := s.gen
	s.state = StateOpen
	s.attempts = 0
	s.connectedAt = m.now()
	reconnected := s.reconnecting
	s.reconnecting = false

	// Published under mu so no close or unsubscribe event for this socket
	// can come first.
	m.bus.Publish(events.Event{
		Type:  events.StreamConnected,
		Topic: s.key,
		Data:  events.StreamStatus{Topic: s.key},
	})
	if reconnected {
		m.reconnects.Add(1)
		m.bus.Publish(events.Event{
			Type:  events.StreamReconnected,
			Topic: s.key,
			Data:  events.StreamStatus{Topic: s.key},
		})
	}
	m.wg.Add(1)
	m.mu.Unlock()

	s.logger.Info("stream connected", "reconnect", reconnected)
	go m.read(s, client, gen)
	return nil
}

func (m *Manager) clientConfig(key string) ClientConfig {
	cfg := ClientConfig{
		URL:              strings.TrimSuffix(m.cfg.BaseURL, "/") + "/" + key,
		WriteTimeout:     5 * time.Second,
		HandshakeTimeout: m.cfg.ConnectionTimeout,
		BufferSize:       m.cfg.BufferSize,
	}
	if m.cfg.EnableHeartbeat {
		cfg.PingInterval = m.cfg.PingInterval
	}
	return cfg
}

// read drains one client in order, then handles its close.
func (m *Manager) read(s *stream, client Client, gen uint64) {
	defer m.wg.Done()

	for msg := range client.Messages() {
		m.handleMessage(s, msg)
	}
	m.handleClose(s, gen, client.CloseInfo())
}

func (m *Manager) handleMessage(s *stream, msg TimestampedMessage) {
	s.lastDataAt.Store(msg.ReceivedAt.UnixNano())

	out, err := normalize.Message(m.cfg.Exchange, s.topic, msg.Data, msg.ReceivedAt)
	if err != nil {
		s.parseErrors.Add(1)
		m.parseErrors.Add(1)

		failure := events.ParseFailure{Topic: s.key, Kind: string(s.topic.Kind()), Err: err}
		var pe *normalize.ParseError
		if errors.As(err, &pe) {
			failure.Field = pe.Field
		}
		s.logger.Warn("failed to normalize message", "field", failure.Field, "error", err)
		m.bus.Publish(events.Event{Type: events.ParseError, Topic: s.key, Data: failure})
		return
	}

	s.messages.Add(1)
	m.messages.Add(1)

	if s.handler != nil {
		s.handler(out)
	}
	m.bus.Publish(events.Event{
		Type:  marketEventType(out.Kind()),
		Topic: s.key,
		Time:  msg.ReceivedAt,
		Data:  out,
	})
}

func marketEventType(kind model.FeedKind) events.Type {
	switch kind {
	case model.FeedTicker:
		return events.Ticker
	case model.FeedOrderBook:
		return events.OrderBook
	case model.FeedTrade:
		return events.Trade
	default:
		return events.Candle
	}
}

// handleClose runs when a client's read loop has ended.
func (m *Manager) handleClose(s *stream, gen uint64, info CloseInfo) {
	m.mu.Lock()
	if m.streams[s.key] != s || s.gen != gen || s.state != StateOpen {
		// Unsubscribed, stopped, or superseded by a newer socket.
		m.mu.Unlock()
		return
	}
	s.client = nil
	evs := m.afterCloseLocked(s, info)
	m.mu.Unlock()

	m.publish(evs)
}

// afterCloseLocked decides between removal, terminal failure and a scheduled
// reconnect. Must be called with m.mu held; returns events to publish after
// the lock is released.
func (m *Manager) afterCloseLocked(s *stream, info CloseInfo) []events.Event {
	status := events.StreamStatus{Topic: s.key, Code: info.Code, Err: info.Err, Attempt: s.attempts}
	evs := []events.Event{{Type: events.StreamDisconnected, Topic: s.key, Data: status}}
	if info.Err != nil {
		evs = append(evs, events.Event{Type: events.StreamError, Topic: s.key, Data: status})
	}

	if !m.running || info.Code == CloseNormal {
		s.state = StateClosed
		delete(m.streams, s.key)
		s.logger.Info("stream closed", "code", info.Code)
		return evs
	}

	if s.attempts >= m.cfg.MaxReconnectionAttempts {
		s.state = StateFailed
		delete(m.streams, s.key)
		s.logger.Error("max reconnection attempts reached",
			"attempts", s.attempts,
			"code", info.Code,
			"error", info.Err,
		)
		return append(evs, events.Event{
			Type:  events.MaxReconnectionAttemptsReached,
			Topic: s.key,
			Data:  status,
		})
	}

	delay := m.backoff.Delay(s.attempts)
	s.attempts++
	s.state = StateReconnectScheduled
	s.reconnecting = true
	s.timer = time.AfterFunc(delay, func() { m.reconnect(s) })

	s.logger.Warn("stream dropped, reconnect scheduled",
		"code", info.Code,
		"error", info.Err,
		"attempt", s.attempts,
		"delay", delay,
	)

	evs[0].Data = events.StreamStatus{Topic: s.key, Code: info.Code, Err: info.Err, Attempt: s.attempts, Delay: delay}
	return evs
}

// reconnect fires from the backoff timer.
func (m *Manager) reconnect(s *stream) {
	m.mu.Lock()
	if !m.running || m.streams[s.key] != s || s.state != StateReconnectScheduled {
		m.mu.Unlock()
		return
	}
	s.timer = nil
	s.state = StateConnecting
	ctx := m.ctx
	attempt := s.attempts
	m.mu.Unlock()

	s.logger.Info("attempting reconnection", "attempt", attempt)

	err := m.dial(ctx, s)
	if err == nil || errors.Is(err, ErrNotRunning) || errors.Is(err, errStreamGone) {
		return
	}

	m.mu.Lock()
	if m.streams[s.key] != s || s.state != StateConnecting {
		m.mu.Unlock()
		return
	}
	evs := m.afterCloseLocked(s, CloseInfo{Code: CloseAbnormal, Err: err})
	m.mu.Unlock()

	m.publish(evs)
}

func (m *Manager) publish(evs []events.Event) {
	for _, ev := range evs {
		m.bus.Publish(ev)
	}
}

// Streams returns a snapshot of every tracked stream, sorted by topic.
func (m *Manager) Streams() []StreamInfo {
	m.mu.Lock()
	out := make([]StreamInfo, 0, len(m.streams))
	for _, s := range m.streams {
		out = append(out, s.info())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out
}

// Stats returns current statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	stats := ManagerStats{TotalStreams: len(m.streams)}
	for _, s := range m.streams {
		switch {
		case s.state == StateOpen:
			stats.OpenStreams++
		case s.reconnecting:
			stats.ReconnectingStreams++
		}
	}
	m.mu.Unlock()

	stats.MessagesReceived = m.messages.Load()
	stats.ParseErrors = m.parseErrors.Load()
	stats.Reconnects = m.reconnects.Load()
	return stats
}
