package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rickgao/paperstream/internal/model"
)

// ParseError reports a message that could not be normalized.
type ParseError struct {
	Topic string
	Kind  model.FeedKind
	Field string // empty when the payload itself was not valid JSON
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("parse %s message on %s: %v", e.Kind, e.Topic, e.Err)
	}
	return fmt.Sprintf("parse %s message on %s: field %q: %v", e.Kind, e.Topic, e.Field, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Message dispatches on the topic's feed kind.
func Message(exchange string, topic model.Topic, data []byte, receivedAt time.Time) (model.Message, error) {
	data = unwrapCombined(data)

	var (
		msg model.Message
		err error
	)
	switch topic.Kind() {
	case model.FeedTicker:
		msg, err = Ticker(exchange, topic, data, receivedAt)
	case model.FeedOrderBook:
		msg, err = Depth(exchange, topic, data, receivedAt)
	case model.FeedTrade:
		msg, err = Trade(exchange, topic, data, receivedAt)
	case model.FeedCandle:
		msg, err = Kline(exchange, topic, data, receivedAt)
	default:
		err = &ParseError{Topic: topic.String(), Kind: topic.Kind(), Err: fmt.Errorf("unsupported channel %q", topic.Channel)}
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// Ticker normalizes a 24h ticker payload.
func Ticker(exchange string, topic model.Topic, data []byte, receivedAt time.Time) (model.Ticker, error) {
	var wire tickerWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return model.Ticker{}, &ParseError{Topic: topic.String(), Kind: model.FeedTicker, Err: err}
	}

	p := fieldParser{topic: topic.String(), kind: model.FeedTicker}
	out := model.Ticker{
		Exchange:      exchange,
		Symbol:        symbolOf(wire.Symbol, topic),
		Last:          p.float("c", wire.Last),
		Open:          p.float("o", wire.Open),
		High:          p.float("h", wire.High),
		Low:           p.float("l", wire.Low),
		Volume:        p.float("v", wire.Volume),
		QuoteVolume:   p.float("q", wire.QuoteVolume),
		Bid:           p.float("b", wire.Bid),
		Ask:           p.float("a", wire.Ask),
		Change:        p.float("p", wire.Change),
		ChangePercent: p.float("P", wire.ChangePercent),
		EventTime:     millis(wire.EventTime),
		ReceivedAt:    receivedAt,
	}
	if p.err != nil {
		return model.Ticker{}, p.err
	}
	return out, nil
}

// Depth normalizes a diff-depth or partial-book payload.
func Depth(exchange string, topic model.Topic, data []byte, receivedAt time.Time) (model.OrderBook, error) {
	var wire depthWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return model.OrderBook{}, &ParseError{Topic: topic.String(), Kind: model.FeedOrderBook, Err: err}
	}

	bids, asks := wire.Bids, wire.Asks
	bidField, askField := "b", "a"
	if bids == nil && asks == nil {
		bids, asks = wire.PartialBids, wire.PartialAsks
		bidField, askField = "bids", "asks"
	}

	p := fieldParser{topic: topic.String(), kind: model.FeedOrderBook}
	out := model.OrderBook{
		Exchange:   exchange,
		Symbol:     symbolOf(wire.Symbol, topic),
		Bids:       p.levels(bidField, bids),
		Asks:       p.levels(askField, asks),
		EventTime:  millis(wire.EventTime),
		ReceivedAt: receivedAt,
	}
	if p.err != nil {
		return model.OrderBook{}, p.err
	}
	return out, nil
}

// Trade normalizes a trade payload.
func Trade(exchange string, topic model.Topic, data []byte, receivedAt time.Time) (model.Trade, error) {
	var wire tradeWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return model.Trade{}, &ParseError{Topic: topic.String(), Kind: model.FeedTrade, Err: err}
	}

	p := fieldParser{topic: topic.String(), kind: model.FeedTrade}
	out := model.Trade{
		Exchange:   exchange,
		Symbol:     symbolOf(wire.Symbol, topic),
		TradeID:    wire.TradeID,
		Price:      p.float("p", wire.Price),
		Quantity:   p.float("q", wire.Quantity),
		Side:       model.SideFromMaker(wire.BuyerIsMaker),
		TradeTime:  millis(wire.TradeTime),
		EventTime:  millis(wire.EventTime),
		ReceivedAt: receivedAt,
	}
	if p.err != nil {
		return model.Trade{}, p.err
	}
	return out, nil
}

// Kline normalizes a candlestick payload.
func Kline(exchange string, topic model.Topic, data []byte, receivedAt time.Time) (model.Candle, error) {
	var wire klineWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return model.Candle{}, &ParseError{Topic: topic.String(), Kind: model.FeedCandle, Err: err}
	}

	k := wire.Kline
	interval := k.Interval
	if interval == "" {
		interval = topic.Interval
	}

	p := fieldParser{topic: topic.String(), kind: model.FeedCandle}
	out := model.Candle{
		Exchange:    exchange,
		Symbol:      symbolOf(wire.Symbol, topic),
		Interval:    interval,
		OpenTime:    millis(k.OpenTime),
		CloseTime:   millis(k.CloseTime),
		Open:        p.float("k.o", k.Open),
		High:        p.float("k.h", k.High),
		Low:         p.float("k.l", k.Low),
		Close:       p.float("k.c", k.Close),
		Volume:      p.float("k.v", k.Volume),
		QuoteVolume: p.float("k.q", k.QuoteVolume),
		Trades:      k.Trades,
		Closed:      k.Closed,
		EventTime:   millis(wire.EventTime),
		ReceivedAt:  receivedAt,
	}
	if p.err != nil {
		return model.Candle{}, p.err
	}
	return out, nil
}

// fieldParser records the first field conversion failure.
type fieldParser struct {
	topic string
	kind  model.FeedKind
	err   *ParseError
}

// float parses a decimal string. Absent fields decode as zero.
func (p *fieldParser) float(field, s string) float64 {
	if p.err != nil || s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.err = &ParseError{Topic: p.topic, Kind: p.kind, Field: field, Err: err}
		return 0
	}
	return f
}

func (p *fieldParser) levels(field string, raw [][]string) []model.PriceLevel {
	out := make([]model.PriceLevel, 0, len(raw))
	for i, level := range raw {
		if len(level) < 2 {
			if p.err == nil {
				p.err = &ParseError{Topic: p.topic, Kind: p.kind, Field: fmt.Sprintf("%s[%d]", field, i), Err: fmt.Errorf("want [price, qty], got %d values", len(level))}
			}
			return nil
		}
		price := p.float(fmt.Sprintf("%s[%d].price", field, i), level[0])
		qty := p.float(fmt.Sprintf("%s[%d].qty", field, i), level[1])
		if p.err != nil {
			return nil
		}
		out = append(out, model.PriceLevel{Price: price, Quantity: qty})
	}
	return out
}

// unwrapCombined strips the {"stream":..,"data":..} envelope if present.
func unwrapCombined(data []byte) []byte {
	if !bytes.Contains(data, []byte(`"stream"`)) {
		return data
	}
	var env combinedEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Stream == "" || len(env.Data) == 0 {
		return data
	}
	return env.Data
}

func symbolOf(wire string, topic model.Topic) string {
	if wire != "" {
		return strings.ToUpper(wire)
	}
	return strings.ToUpper(topic.Symbol)
}

func millis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
