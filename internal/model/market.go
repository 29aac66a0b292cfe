package model

import "time"

// Side is the aggressor side of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// SideFromMaker maps the exchange's "buyer is maker" flag to the aggressor side.
// A maker buyer means the taker sold.
func SideFromMaker(buyerIsMaker bool) Side {
	if buyerIsMaker {
		return SideSell
	}
	return SideBuy
}

// Message is a normalized market-data record. The set of implementations is
// closed: Ticker, OrderBook, Trade and Candle.
type Message interface {
	Kind() FeedKind
	MarketSymbol() string
	isMessage()
}

// Ticker is a rolling 24h ticker update.
type Ticker struct {
	Exchange      string    `json:"exchange"`
	Symbol        string    `json:"symbol"`
	Last          float64   `json:"last"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Volume        float64   `json:"volume"`
	QuoteVolume   float64   `json:"quote_volume"`
	Bid           float64   `json:"bid"`
	Ask           float64   `json:"ask"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	EventTime     time.Time `json:"event_time"`
	ReceivedAt    time.Time `json:"received_at"`
}

// PriceLevel is one side of a book at a single price.
type PriceLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// OrderBook is a depth update (diff or partial snapshot).
type OrderBook struct {
	Exchange   string       `json:"exchange"`
	Symbol     string       `json:"symbol"`
	Bids       []PriceLevel `json:"bids"`
	Asks       []PriceLevel `json:"asks"`
	EventTime  time.Time    `json:"event_time"`
	ReceivedAt time.Time    `json:"received_at"`
}

// Trade is a single executed trade.
type Trade struct {
	Exchange   string    `json:"exchange"`
	Symbol     string    `json:"symbol"`
	TradeID    int64     `json:"trade_id"`
	Price      float64   `json:"price"`
	Quantity   float64   `json:"quantity"`
	Side       Side      `json:"side"`
	TradeTime  time.Time `json:"trade_time"`
	EventTime  time.Time `json:"event_time"`
	ReceivedAt time.Time `json:"received_at"`
}

// Candle is a kline update for one interval.
type Candle struct {
	Exchange    string    `json:"exchange"`
	Symbol      string    `json:"symbol"`
	Interval    string    `json:"interval"`
	OpenTime    time.Time `json:"open_time"`
	CloseTime   time.Time `json:"close_time"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	Volume      float64   `json:"volume"`
	QuoteVolume float64   `json:"quote_volume"`
	Trades      int64     `json:"trades"`
	Closed      bool      `json:"closed"`
	EventTime   time.Time `json:"event_time"`
	ReceivedAt  time.Time `json:"received_at"`
}

func (Ticker) Kind() FeedKind    { return FeedTicker }
func (OrderBook) Kind() FeedKind { return FeedOrderBook }
func (Trade) Kind() FeedKind     { return FeedTrade }
func (Candle) Kind() FeedKind    { return FeedCandle }

func (m Ticker) MarketSymbol() string    { return m.Symbol }
func (m OrderBook) MarketSymbol() string { return m.Symbol }
func (m Trade) MarketSymbol() string     { return m.Symbol }
func (m Candle) MarketSymbol() string    { return m.Symbol }

func (Ticker) isMessage()    {}
func (OrderBook) isMessage() {}
func (Trade) isMessage()     {}
func (Candle) isMessage()    {}
