package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rickgao/paperstream/internal/events"
	"github.com/rickgao/paperstream/internal/model"
)

// Client actions.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionPing        = "ping"
)

// Reply types.
const (
	ReplySubscribed   = "subscribed"
	ReplyUnsubscribed = "unsubscribed"
	ReplyPong         = "pong"
	ReplyError        = "error"
)

// Frame is a message sent by a client.
type Frame struct {
	Action  string `json:"action"`
	Channel string `json:"channel,omitempty"`
}

// Reply is a control message sent to a client.
type Reply struct {
	Type    string    `json:"type"`
	Channel string    `json:"channel,omitempty"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

// Envelope wraps a relayed market message.
type Envelope struct {
	Type    events.Type `json:"type"`
	Channel string      `json:"channel"`
	Data    any         `json:"data"`
}

var errBadChannel = errors.New("invalid channel")

// ParseChannel validates and canonicalizes a client channel name.
// Accepted forms: ticker:SYM, orderbook:SYM, trade:SYM, candle:SYM:interval.
func ParseChannel(s string) (string, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return "", fmt.Errorf("%w: %q", errBadChannel, s)
	}
	kind, symbol := strings.ToLower(parts[0]), strings.ToUpper(parts[1])
	if symbol == "" {
		return "", fmt.Errorf("%w: %q: empty symbol", errBadChannel, s)
	}

	switch events.Type(kind) {
	case events.Ticker, events.OrderBook, events.Trade:
		if len(parts) != 2 {
			return "", fmt.Errorf("%w: %q", errBadChannel, s)
		}
		return kind + ":" + symbol, nil
	case events.Candle:
		if len(parts) != 3 || parts[2] == "" {
			return "", fmt.Errorf("%w: %q: candle channels need an interval", errBadChannel, s)
		}
		return kind + ":" + symbol + ":" + parts[2], nil
	default:
		return "", fmt.Errorf("%w: %q: unknown type %q", errBadChannel, s, kind)
	}
}

// ChannelFor returns the pool channel a market event is relayed to.
func ChannelFor(ev events.Event) (string, bool) {
	switch m := ev.Data.(type) {
	case model.Candle:
		return string(events.Candle) + ":" + strings.ToUpper(m.Symbol) + ":" + m.Interval, true
	case model.Message:
		return string(ev.Type) + ":" + strings.ToUpper(m.MarketSymbol()), true
	default:
		return "", false
	}
}
