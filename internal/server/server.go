package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/rickgao/paperstream/internal/connection"
	"github.com/rickgao/paperstream/internal/events"
	"github.com/rickgao/paperstream/internal/pool"
)

// UserHeader carries the identity set by the upstream auth proxy.
const UserHeader = "X-User-ID"

// Config configures the inbound server.
type Config struct {
	Port         int
	Path         string
	ReadLimit    int64
	WriteTimeout time.Duration
	PingInterval time.Duration
	SendBuffer   int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Port:         8080,
		Path:         "/ws",
		ReadLimit:    64 * 1024,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		SendBuffer:   256,
	}
}

// StreamSource reports on the outbound exchange streams.
type StreamSource interface {
	HealthReport() events.HealthReport
	Streams() []connection.StreamInfo
}

// Option configures a Server.
type Option func(*Server)

// WithMetricsHandler mounts h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// Server is the HTTP and WebSocket front end.
type Server struct {
	cfg     Config
	pool    *pool.Pool
	streams StreamSource
	metrics http.Handler
	logger  *slog.Logger

	upgrader   websocket.Upgrader
	router     *mux.Router
	httpServer *http.Server
}

// New builds a Server. Zero config fields take their defaults.
func New(cfg Config, p *pool.Pool, streams StreamSource, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = def.ReadLimit
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}

	s := &Server{
		cfg:     cfg,
		pool:    p,
		streams: streams,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser origin checks belong to the fronting proxy.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := mux.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)

	r.HandleFunc(s.cfg.Path, s.handleWebSocket).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/streams", s.handleStreams).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	s.router = r
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured port and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server failed", "error", err)
		}
	}()

	s.logger.Info("server listening", "addr", ln.Addr().String(), "ws_path", s.cfg.Path)
	return nil
}

// Shutdown stops accepting requests. Upgraded sockets are owned by the pool
// and closed by pool.Stop.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		s.logger.Debug("upgrade failed", "error", err)
		return
	}

	c := newClientConn(uuid.NewString(), r.Header.Get(UserHeader), clientIP(r), ws, s.cfg, s.logger)
	if !s.pool.AddConnection(c) {
		deadline := time.Now().Add(s.cfg.WriteTimeout)
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "connection limit reached"),
			deadline)
		ws.Close()
		return
	}

	go c.writePump()
	s.readPump(c)
}

// readPump reads client frames until the socket fails, then drops the
// connection from the pool.
func (s *Server) readPump(c *clientConn) {
	defer func() {
		s.pool.RemoveConnection(c.id)
		c.Close(websocket.CloseNormalClosure, "")
	}()

	c.ws.SetReadLimit(s.cfg.ReadLimit)
	c.ws.SetReadDeadline(time.Now().Add(c.pongWait()))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.pongWait()))
		s.pool.Touch(c.id)
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("client read error", "error", err)
			}
			return
		}
		s.handleFrame(c, data)
	}
}

func (s *Server) handleFrame(c *clientConn, data []byte) {
	if !s.pool.CheckRateLimit(c.id) {
		s.reply(c, Reply{Type: ReplyError, Message: "rate limit exceeded"})
		return
	}
	s.pool.RecordMessage(c.id, pool.Inbound, len(data))

	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		s.reply(c, Reply{Type: ReplyError, Message: "malformed frame"})
		return
	}

	switch f.Action {
	case ActionSubscribe:
		channel, err := ParseChannel(f.Channel)
		if err != nil {
			s.reply(c, Reply{Type: ReplyError, Channel: f.Channel, Message: err.Error()})
			return
		}
		if err := s.pool.Subscribe(c.id, channel); err != nil {
			s.reply(c, Reply{Type: ReplyError, Channel: channel, Message: err.Error()})
			return
		}
		s.reply(c, Reply{Type: ReplySubscribed, Channel: channel})

	case ActionUnsubscribe:
		channel, err := ParseChannel(f.Channel)
		if err != nil {
			s.reply(c, Reply{Type: ReplyError, Channel: f.Channel, Message: err.Error()})
			return
		}
		if err := s.pool.Unsubscribe(c.id, channel); err != nil {
			s.reply(c, Reply{Type: ReplyError, Channel: channel, Message: err.Error()})
			return
		}
		s.reply(c, Reply{Type: ReplyUnsubscribed, Channel: channel})

	case ActionPing:
		s.reply(c, Reply{Type: ReplyPong})

	default:
		s.reply(c, Reply{Type: ReplyError, Message: fmt.Sprintf("unknown action %q", f.Action)})
	}
}

func (s *Server) reply(c *clientConn, r Reply) {
	r.Time = time.Now().UTC()
	data, err := json.Marshal(r)
	if err != nil {
		s.logger.Error("marshal reply", "error", err)
		return
	}
	if err := c.Send(data); err != nil {
		c.logger.Debug("reply dropped", "type", r.Type, "error", err)
		return
	}
	s.pool.RecordMessage(c.id, pool.Outbound, len(data))
}

// clientIP prefers the first X-Forwarded-For hop, then the socket peer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
