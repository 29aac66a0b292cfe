package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Symbol trading statuses.
const (
	StatusTrading = "TRADING"
	StatusBreak   = "BREAK"
	StatusHalt    = "HALT"
)

// ExchangeInfo is the response of /api/v3/exchangeInfo.
type ExchangeInfo struct {
	Timezone   string       `json:"timezone"`
	ServerTime int64        `json:"serverTime"` // Unix milliseconds
	Symbols    []SymbolInfo `json:"symbols"`
}

// SymbolInfo describes one tradable pair.
type SymbolInfo struct {
	Symbol              string   `json:"symbol"`
	Status              string   `json:"status"`
	BaseAsset           string   `json:"baseAsset"`
	QuoteAsset          string   `json:"quoteAsset"`
	BaseAssetPrecision  int      `json:"baseAssetPrecision"`
	QuoteAssetPrecision int      `json:"quoteAssetPrecision"`
	OrderTypes          []string `json:"orderTypes"`
}

// Ping checks connectivity to the REST API.
func (c *Client) Ping(ctx context.Context) error {
	var resp struct{}
	return c.get(ctx, "/api/v3/ping", nil, &resp)
}

// ServerTime returns the exchange clock.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	var resp struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := c.get(ctx, "/api/v3/time", nil, &resp); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(resp.ServerTime), nil
}

// ExchangeInfo fetches symbol metadata. With no symbols it returns every
// listed pair. Symbols are matched case-insensitively.
func (c *Client) ExchangeInfo(ctx context.Context, symbols ...string) (*ExchangeInfo, error) {
	var query url.Values
	if len(symbols) > 0 {
		upper := make([]string, len(symbols))
		for i, s := range symbols {
			upper[i] = strings.ToUpper(s)
		}
		list, err := json.Marshal(upper)
		if err != nil {
			return nil, fmt.Errorf("encode symbols: %w", err)
		}
		query = url.Values{"symbols": {string(list)}}
	}

	var info ExchangeInfo
	if err := c.get(ctx, "/api/v3/exchangeInfo", query, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ValidateSymbols splits symbols into those currently trading and the rest.
// Both slices keep the caller's spelling and are sorted.
//
// The full listing is fetched because the filtered endpoint rejects the
// whole request when any symbol is unknown.
func (c *Client) ValidateSymbols(ctx context.Context, symbols []string) (valid, invalid []string, err error) {
	info, err := c.ExchangeInfo(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch exchange info: %w", err)
	}

	trading := make(map[string]struct{}, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status == StatusTrading {
			trading[s.Symbol] = struct{}{}
		}
	}

	for _, s := range symbols {
		if _, ok := trading[strings.ToUpper(s)]; ok {
			valid = append(valid, s)
		} else {
			invalid = append(invalid, s)
		}
	}
	sort.Strings(valid)
	sort.Strings(invalid)

	c.logger.Debug("validated symbols",
		"requested", len(symbols),
		"valid", len(valid),
		"invalid", len(invalid),
	)
	return valid, invalid, nil
}
