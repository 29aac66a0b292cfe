package normalize

import "encoding/json"

// encoding/json matches keys case-insensitively when no exact match exists, so
// every upper/lower-case pair the exchange sends is declared explicitly.

// combinedEnvelope wraps payloads on the combined-stream endpoint.
type combinedEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type tickerWire struct {
	EventType     string `json:"e"`
	EventTime     int64  `json:"E"`
	Symbol        string `json:"s"`
	Change        string `json:"p"`
	ChangePercent string `json:"P"`
	WeightedAvg   string `json:"w"`
	FirstPrice    string `json:"x"`
	Last          string `json:"c"`
	LastQty       string `json:"Q"`
	Bid           string `json:"b"`
	BidQty        string `json:"B"`
	Ask           string `json:"a"`
	AskQty        string `json:"A"`
	Open          string `json:"o"`
	High          string `json:"h"`
	Low           string `json:"l"`
	Volume        string `json:"v"`
	QuoteVolume   string `json:"q"`
	OpenTime      int64  `json:"O"`
	CloseTime     int64  `json:"C"`
	FirstTradeID  int64  `json:"F"`
	LastTradeID   int64  `json:"L"`
	Count         int64  `json:"n"`
}

type depthWire struct {
	EventType     string     `json:"e"`
	EventTime     int64      `json:"E"`
	Symbol        string     `json:"s"`
	FirstUpdateID int64      `json:"U"`
	FinalUpdateID int64      `json:"u"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
	LastUpdateID  int64      `json:"lastUpdateId"`
	PartialBids   [][]string `json:"bids"`
	PartialAsks   [][]string `json:"asks"`
}

type tradeWire struct {
	EventType    string `json:"e"`
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	TradeID      int64  `json:"t"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	BuyerIsMaker bool   `json:"m"`
	Ignore       bool   `json:"M"`
}

type klineWire struct {
	EventType string    `json:"e"`
	EventTime int64     `json:"E"`
	Symbol    string    `json:"s"`
	Kline     klineBody `json:"k"`
}

type klineBody struct {
	OpenTime         int64  `json:"t"`
	CloseTime        int64  `json:"T"`
	Symbol           string `json:"s"`
	Interval         string `json:"i"`
	FirstTradeID     int64  `json:"f"`
	LastTradeID      int64  `json:"L"`
	Open             string `json:"o"`
	Close            string `json:"c"`
	High             string `json:"h"`
	Low              string `json:"l"`
	Volume           string `json:"v"`
	Trades           int64  `json:"n"`
	Closed           bool   `json:"x"`
	QuoteVolume      string `json:"q"`
	TakerBuyVolume   string `json:"V"`
	TakerBuyQuoteVol string `json:"Q"`
	Ignore           string `json:"B"`
}
