// Package normalize converts raw exchange stream payloads into typed model records.
//
// Every function here is pure: it never touches connection state, and a
// malformed message yields a *ParseError scoped to that one message.
//
// Feed kinds:
//   - ticker    → model.Ticker
//   - depth     → model.OrderBook (diff "b"/"a" or partial "bids"/"asks")
//   - trade     → model.Trade ("m" maker flag → buy/sell side)
//   - kline     → model.Candle
package normalize
