package model

import (
	"fmt"
	"strings"
)

// Channel is an exchange stream channel.
type Channel string

const (
	ChannelTicker Channel = "ticker"
	ChannelDepth  Channel = "depth"
	ChannelTrade  Channel = "trade"
	ChannelKline  Channel = "kline"
)

// FeedKind identifies the normalizer that handles a channel.
type FeedKind string

const (
	FeedTicker    FeedKind = "ticker"
	FeedOrderBook FeedKind = "orderbook"
	FeedTrade     FeedKind = "trade"
	FeedCandle    FeedKind = "candle"
)

// Intervals supported by kline streams.
var validIntervals = map[string]struct{}{
	"1s": {}, "1m": {}, "3m": {}, "5m": {}, "15m": {}, "30m": {},
	"1h": {}, "2h": {}, "4h": {}, "6h": {}, "8h": {}, "12h": {},
	"1d": {}, "3d": {}, "1w": {}, "1M": {},
}

// Partial book depth levels accepted after "depth".
var validDepthLevels = map[string]struct{}{"": {}, "5": {}, "10": {}, "20": {}}

// Topic identifies a single exchange stream.
type Topic struct {
	Symbol   string  // lowercase, e.g. "btcusdt"
	Channel  Channel // ticker, depth, trade, kline
	Levels   string  // depth only: "", "5", "10", "20"
	Interval string  // kline only, e.g. "1m"
}

// String renders the topic in exchange wire form.
func (t Topic) String() string {
	switch t.Channel {
	case ChannelKline:
		return t.Symbol + "@" + string(t.Channel) + "_" + t.Interval
	case ChannelDepth:
		return t.Symbol + "@" + string(t.Channel) + t.Levels
	default:
		return t.Symbol + "@" + string(t.Channel)
	}
}

// Kind returns the feed kind carried by the topic.
func (t Topic) Kind() FeedKind {
	switch t.Channel {
	case ChannelTicker:
		return FeedTicker
	case ChannelDepth:
		return FeedOrderBook
	case ChannelTrade:
		return FeedTrade
	case ChannelKline:
		return FeedCandle
	}
	return ""
}

// ParseTopic parses "<symbol>@<channel>[_<interval>]".
func ParseTopic(s string) (Topic, error) {
	symbol, rest, ok := strings.Cut(s, "@")
	if !ok {
		return Topic{}, &ValidationError{Field: "topic", Value: s, Reason: "missing '@' separator"}
	}
	if err := validateSymbol(symbol); err != nil {
		return Topic{}, err
	}
	return NewTopic(symbol, rest)
}

// NewTopic builds a topic from a symbol and a channel spec such as
// "ticker", "depth20" or "kline_1m".
func NewTopic(symbol, channel string) (Topic, error) {
	if err := validateSymbol(symbol); err != nil {
		return Topic{}, err
	}
	t := Topic{Symbol: strings.ToLower(symbol)}

	switch {
	case channel == string(ChannelTicker):
		t.Channel = ChannelTicker
	case channel == string(ChannelTrade):
		t.Channel = ChannelTrade
	case strings.HasPrefix(channel, string(ChannelDepth)):
		levels := strings.TrimPrefix(channel, string(ChannelDepth))
		if _, ok := validDepthLevels[levels]; !ok {
			return Topic{}, &ValidationError{Field: "channel", Value: channel, Reason: "unsupported depth levels"}
		}
		t.Channel = ChannelDepth
		t.Levels = levels
	case strings.HasPrefix(channel, string(ChannelKline)+"_"):
		interval := strings.TrimPrefix(channel, string(ChannelKline)+"_")
		if _, ok := validIntervals[interval]; !ok {
			return Topic{}, &ValidationError{Field: "interval", Value: interval, Reason: "unsupported kline interval"}
		}
		t.Channel = ChannelKline
		t.Interval = interval
	default:
		return Topic{}, &ValidationError{Field: "channel", Value: channel, Reason: "unknown channel"}
	}

	return t, nil
}

// KlineChannel returns the channel spec for a kline interval.
func KlineChannel(interval string) string {
	return string(ChannelKline) + "_" + interval
}

func validateSymbol(symbol string) error {
	if symbol == "" {
		return &ValidationError{Field: "symbol", Value: symbol, Reason: "empty"}
	}
	for _, r := range symbol {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return &ValidationError{Field: "symbol", Value: symbol, Reason: "must be alphanumeric"}
		}
	}
	return nil
}

// ValidationError reports bad subscription arguments.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}
