package server

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	errConnClosed     = errors.New("connection closed")
	errSendBufferFull = errors.New("send buffer full")
)

// clientConn is one upgraded client socket. It implements pool.Conn.
//
// All writes happen on writePump; Send only queues.
type clientConn struct {
	id     string
	userID string
	ip     string

	ws     *websocket.Conn
	cfg    Config
	logger *slog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu          sync.Mutex
	closeCode   int
	closeReason string
}

func newClientConn(id, userID, ip string, ws *websocket.Conn, cfg Config, logger *slog.Logger) *clientConn {
	return &clientConn{
		id:     id,
		userID: userID,
		ip:     ip,
		ws:     ws,
		cfg:    cfg,
		logger: logger.With("conn_id", id),
		send:   make(chan []byte, cfg.SendBuffer),
		done:   make(chan struct{}),
	}
}

func (c *clientConn) ID() string       { return c.id }
func (c *clientConn) UserID() string   { return c.userID }
func (c *clientConn) RemoteIP() string { return c.ip }

// Send queues data for the write pump. A slow client that fills its buffer
// loses the message rather than stalling the caller.
func (c *clientConn) Send(data []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return errConnClosed
	default:
		return errSendBufferFull
	}
}

// Close asks the write pump to send a close frame and tear the socket down.
func (c *clientConn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeCode = code
		c.closeReason = reason
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}

// pongWait bounds how long a silent socket survives between pongs.
func (c *clientConn) pongWait() time.Duration {
	return 2 * c.cfg.PingInterval
}

// writePump owns every write to the socket.
func (c *clientConn) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("write failed", "error", err)
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("ping failed", "error", err)
				return
			}

		case <-c.done:
			c.mu.Lock()
			code, reason := c.closeCode, c.closeReason
			c.mu.Unlock()

			deadline := time.Now().Add(c.cfg.WriteTimeout)
			err := c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
			if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				c.logger.Debug("close frame failed", "error", err)
			}
			return
		}
	}
}
