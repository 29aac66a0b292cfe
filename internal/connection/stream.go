package connection

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rickgao/paperstream/internal/model"
)

// stream holds the state for a single topic. Fields without a note are
// guarded by Manager.mu.
type stream struct {
	topic   model.Topic
	key     string
	handler Handler // immutable; replayed across reconnects
	logger  *slog.Logger

	state        State
	attempts     int
	client       Client
	gen          uint64 // bumped per client so late callbacks from an old socket are ignored
	timer        *time.Timer
	connectedAt  time.Time
	reconnecting bool // next successful open is a reconnect

	lastDataAt  atomic.Int64 // unix nanos, 0 = never
	messages    atomic.Int64
	parseErrors atomic.Int64
}

func newStream(topic model.Topic, handler Handler, logger *slog.Logger) *stream {
	return &stream{
		topic:   topic,
		key:     topic.String(),
		handler: handler,
		logger:  logger.With("topic", topic.String()),
		state:   StateIdle,
	}
}

// freshness returns the reference time for staleness: the last data
// timestamp, or the open time when nothing arrived since.
func (s *stream) freshness() time.Time {
	ref := s.connectedAt
	if n := s.lastDataAt.Load(); n != 0 {
		if last := time.Unix(0, n); last.After(ref) {
			ref = last
		}
	}
	return ref
}

func (s *stream) info() StreamInfo {
	si := StreamInfo{
		Topic:             s.key,
		State:             s.state,
		ReconnectAttempts: s.attempts,
		ConnectedAt:       s.connectedAt,
		Messages:          s.messages.Load(),
		ParseErrors:       s.parseErrors.Load(),
	}
	if n := s.lastDataAt.Load(); n != 0 {
		si.LastDataAt = time.Unix(0, n)
	}
	return si
}
