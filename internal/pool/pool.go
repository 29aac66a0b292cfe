package pool

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rickgao/paperstream/internal/events"
)

// entry is the pool-owned state of one connection.
type entry struct {
	conn         Conn
	id           string
	userID       string
	ip           string
	connectedAt  time.Time
	lastActivity time.Time
	channels     map[string]struct{}

	messagesReceived int64
	messagesSent     int64
	bytesReceived    int64
	bytesSent        int64

	window []time.Time // inbound message times, oldest first
}

// Pool tracks admitted client connections.
type Pool struct {
	cfg    Config
	bus    *events.Bus
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	conns    map[string]*entry
	byUser   map[string]map[string]struct{}
	byIP     map[string]map[string]struct{}
	channels map[string]map[string]struct{}

	// Metrics accounting since the last snapshot.
	messageCount int64
	lastSnapshot time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option customizes a Pool.
type Option func(*Pool)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// New creates an empty pool.
func New(cfg Config, bus *events.Bus, logger *slog.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if bus == nil {
		bus = events.NewBus(logger)
	}

	p := &Pool{
		cfg:      cfg,
		bus:      bus,
		logger:   logger,
		now:      time.Now,
		conns:    make(map[string]*entry),
		byUser:   make(map[string]map[string]struct{}),
		byIP:     make(map[string]map[string]struct{}),
		channels: make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.lastSnapshot = p.now()
	return p
}

// AddConnection admits conn if no cap would be exceeded. A rejected
// connection leaves no trace in the pool.
func (p *Pool) AddConnection(conn Conn) bool {
	id, userID, ip := conn.ID(), conn.UserID(), conn.RemoteIP()
	now := p.now()

	p.mu.Lock()
	if reason := p.admitLocked(id, userID, ip); reason != "" {
		total := len(p.conns)
		p.mu.Unlock()

		p.logger.Warn("connection rejected",
			"conn_id", id,
			"user_id", userID,
			"ip", ip,
			"reason", reason,
		)
		p.bus.Publish(events.Event{
			Type:  events.ConnectionLimitReached,
			Topic: id,
			Data:  events.ConnectionInfo{ID: id, UserID: userID, IP: ip, Reason: reason, Total: total},
		})
		return false
	}

	e := &entry{
		conn:         conn,
		id:           id,
		userID:       userID,
		ip:           ip,
		connectedAt:  now,
		lastActivity: now,
		channels:     make(map[string]struct{}),
	}
	p.conns[id] = e
	if userID != "" {
		addIndex(p.byUser, userID, id)
	}
	addIndex(p.byIP, ip, id)
	total := len(p.conns)
	p.checkInvariants()
	p.mu.Unlock()

	p.logger.Debug("connection added", "conn_id", id, "user_id", userID, "ip", ip, "total", total)
	p.bus.Publish(events.Event{
		Type:  events.ConnectionAdded,
		Topic: id,
		Data:  events.ConnectionInfo{ID: id, UserID: userID, IP: ip, Total: total},
	})
	return true
}

// admitLocked returns the rejection reason, or "" when conn may be admitted.
func (p *Pool) admitLocked(id, userID, ip string) string {
	if _, exists := p.conns[id]; exists {
		return LimitDuplicate
	}
	if len(p.conns) >= p.cfg.MaxConnections {
		return LimitGlobal
	}
	if userID != "" && len(p.byUser[userID]) >= p.cfg.MaxConnectionsPerUser {
		return LimitPerUser
	}
	if len(p.byIP[ip]) >= p.cfg.MaxConnectionsPerIP {
		return LimitPerIP
	}
	return ""
}

// RemoveConnection drops id from every index. It does not close the socket.
// Removing an unknown id is a no-op that returns false.
func (p *Pool) RemoveConnection(id string) bool {
	return p.remove(id, ReasonClosed) != nil
}

// Disconnect removes id and closes its socket with the given reason.
func (p *Pool) Disconnect(id string, code int, reason string) bool {
	e := p.remove(id, reason)
	if e == nil {
		return false
	}
	if err := e.conn.Close(code, reason); err != nil {
		p.logger.Debug("close failed", "conn_id", id, "error", err)
	}
	return true
}

func (p *Pool) remove(id, reason string) *entry {
	p.mu.Lock()
	e, ok := p.conns[id]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	p.removeLocked(e)
	total := len(p.conns)
	p.checkInvariants()
	p.mu.Unlock()

	p.logger.Debug("connection removed", "conn_id", id, "reason", reason, "total", total)
	p.bus.Publish(events.Event{
		Type:  events.ConnectionRemoved,
		Topic: id,
		Data:  events.ConnectionInfo{ID: id, UserID: e.userID, IP: e.ip, Reason: reason, Total: total},
	})
	return e
}

// removeLocked deletes e from the main table and every index, pruning
// index entries that become empty.
func (p *Pool) removeLocked(e *entry) {
	delete(p.conns, e.id)
	if e.userID != "" {
		removeIndex(p.byUser, e.userID, e.id)
	}
	removeIndex(p.byIP, e.ip, e.id)
	for ch := range e.channels {
		removeIndex(p.channels, ch, e.id)
	}
}

// Touch records activity on id without counting a message (pong frames).
func (p *Pool) Touch(id string) {
	now := p.now()
	p.mu.Lock()
	if e, ok := p.conns[id]; ok {
		e.lastActivity = now
	}
	p.mu.Unlock()
}

// Len returns the number of admitted connections.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// Connection returns a snapshot of one connection.
func (p *Pool) Connection(id string) (Info, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.conns[id]
	if !ok {
		return Info{}, false
	}
	return Info{
		ID:               e.id,
		UserID:           e.userID,
		RemoteIP:         e.ip,
		ConnectedAt:      e.connectedAt,
		LastActivity:     e.lastActivity,
		Channels:         sortedKeys(e.channels),
		MessagesReceived: e.messagesReceived,
		MessagesSent:     e.messagesSent,
		BytesReceived:    e.bytesReceived,
		BytesSent:        e.bytesSent,
	}, true
}

// Stats returns index sizes.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		Connections: len(p.conns),
		Users:       len(p.byUser),
		IPs:         len(p.byIP),
		Channels:    len(p.channels),
	}
	for _, e := range p.conns {
		s.Subscriptions += len(e.channels)
	}
	return s
}

func addIndex(idx map[string]map[string]struct{}, key, id string) {
	set, ok := idx[key]
	if !ok {
		set = make(map[string]struct{})
		idx[key] = set
	}
	set[id] = struct{}{}
}

func removeIndex(idx map[string]map[string]struct{}, key, id string) {
	set, ok := idx[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(idx, key)
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
