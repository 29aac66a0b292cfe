package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/rickgao/paperstream/internal/events"
	"github.com/rickgao/paperstream/internal/pool"
)

// Relay forwards normalized market events to pool channels.
type Relay struct {
	pool   *pool.Pool
	logger *slog.Logger

	forwarded atomic.Int64
	delivered atomic.Int64
}

// NewRelay creates a relay broadcasting into p.
func NewRelay(p *pool.Pool, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{pool: p, logger: logger}
}

// Run forwards events from sub until ctx is done or the bus closes. sub
// should be subscribed to events.MarketTypes.
func (r *Relay) Run(ctx context.Context, sub *events.Subscription) {
	sub.Run(ctx, func(ev events.Event) { r.Forward(ev) })
}

// Forward broadcasts one market event and returns how many clients got it.
func (r *Relay) Forward(ev events.Event) int {
	channel, ok := ChannelFor(ev)
	if !ok {
		return 0
	}

	data, err := json.Marshal(Envelope{Type: ev.Type, Channel: channel, Data: ev.Data})
	if err != nil {
		r.logger.Error("marshal market event", "channel", channel, "error", err)
		return 0
	}

	n := r.pool.Broadcast(channel, data)
	r.forwarded.Add(1)
	r.delivered.Add(int64(n))
	return n
}

// Stats returns events forwarded and client deliveries made.
func (r *Relay) Stats() (forwarded, delivered int64) {
	return r.forwarded.Load(), r.delivered.Load()
}
