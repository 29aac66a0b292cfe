package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// TestNewClient tests client construction with various options.
func TestNewClient(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		c := NewClient("https://api.example.com")

		if c.baseURL != "https://api.example.com" {
			t.Errorf("baseURL = %q, want %q", c.baseURL, "https://api.example.com")
		}
		if c.httpClient.Timeout != 30*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 30*time.Second)
		}
		if c.maxRetries != 3 {
			t.Errorf("maxRetries = %d, want %d", c.maxRetries, 3)
		}
		if c.retryBackoff != time.Second {
			t.Errorf("retryBackoff = %v, want %v", c.retryBackoff, time.Second)
		}
		if c.logger == nil {
			t.Error("logger should not be nil")
		}
	})

	t.Run("with multiple options", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		hc := &http.Client{}
		c := NewClient("https://api.example.com",
			WithHTTPClient(hc),
			WithTimeout(15*time.Second),
			WithRetries(10, 500*time.Millisecond),
			WithRateLimit(5, 2),
			WithLogger(logger),
		)

		if c.httpClient != hc || hc.Timeout != 15*time.Second {
			t.Errorf("http client = %p timeout %v", c.httpClient, hc.Timeout)
		}
		if c.maxRetries != 10 || c.retryBackoff != 500*time.Millisecond {
			t.Errorf("retries = %d/%v", c.maxRetries, c.retryBackoff)
		}
		if c.limiter.Limit() != 5 || c.limiter.Burst() != 2 {
			t.Errorf("limiter = %v/%d", c.limiter.Limit(), c.limiter.Burst())
		}
		if c.logger != logger {
			t.Error("logger not set correctly")
		}
	})
}

func TestAPIError(t *testing.T) {
	tests := []struct {
		err       *APIError
		wantMsg   string
		retryable bool
	}{
		{&APIError{StatusCode: 500, Message: "Internal Server Error"}, "exchange api error 500: Internal Server Error", true},
		{&APIError{StatusCode: 503, Message: "Service Unavailable"}, "exchange api error 503: Service Unavailable", true},
		{&APIError{StatusCode: 429, Message: "Too Many Requests"}, "exchange api error 429: Too Many Requests", true},
		{&APIError{StatusCode: 418, Message: "I'm a teapot"}, "exchange api error 418: I'm a teapot", false},
		{&APIError{StatusCode: 400, Code: -1121, Message: "Invalid symbol."}, "exchange api error 400 (code -1121): Invalid symbol.", false},
	}

	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.wantMsg {
			t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
		}
		if got := tt.err.IsRetryable(); got != tt.retryable {
			t.Errorf("%d IsRetryable() = %v, want %v", tt.err.StatusCode, got, tt.retryable)
		}
	}
}

func TestDoRequest(t *testing.T) {
	t.Run("parses exchange error body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		_, err := c.doRequest(context.Background(), http.MethodGet, "/api/v3/exchangeInfo", nil)

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("error = %v, want *APIError", err)
		}
		if apiErr.Code != -1121 || apiErr.Message != "Invalid symbol." {
			t.Errorf("apiErr = %+v", apiErr)
		}
	})

	t.Run("non-json error body keeps status text", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`slow down`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		_, err := c.doRequest(context.Background(), http.MethodGet, "/x", nil)

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("error = %v, want *APIError", err)
		}
		if apiErr.Message != "Too Many Requests" || apiErr.RetryAfter != 7*time.Second {
			t.Errorf("apiErr = %+v", apiErr)
		}
		if string(apiErr.Body) != "slow down" {
			t.Errorf("Body = %q", apiErr.Body)
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(500 * time.Millisecond)
		}))
		defer server.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		c := NewClient(server.URL)
		if _, err := c.doRequest(ctx, http.MethodGet, "/slow", nil); err == nil {
			t.Fatal("expected error, got nil")
		}
	})
}

func TestDoWithRetry(t *testing.T) {
	t.Run("retries on 5xx and succeeds", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := atomic.AddInt32(&attempts, 1)
			if n < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`error`))
				return
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(3, 10*time.Millisecond))
		if _, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("does not retry on 4xx (except 429)", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusTeapot)
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(3, 10*time.Millisecond))
		if _, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil); err == nil {
			t.Fatal("expected error, got nil")
		}
		if attempts != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
	})

	t.Run("max retries exceeded", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(2, 10*time.Millisecond))
		_, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil)
		if err == nil || !strings.Contains(err.Error(), "max retries exceeded") {
			t.Fatalf("error = %v, want max retries exceeded", err)
		}
		// 1 initial + 2 retries = 3 attempts
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("context cancellation during retry", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		c := NewClient(server.URL, WithRetries(5, time.Second))
		_, err := c.doWithRetry(ctx, http.MethodGet, "/test", nil)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("error = %v, want deadline exceeded", err)
		}
	})
}

const exchangeInfoBody = `{
	"timezone": "UTC",
	"serverTime": 1705320000000,
	"symbols": [
		{"symbol": "BTCUSDT", "status": "TRADING", "baseAsset": "BTC", "quoteAsset": "USDT", "baseAssetPrecision": 8, "quoteAssetPrecision": 8},
		{"symbol": "ETHUSDT", "status": "TRADING", "baseAsset": "ETH", "quoteAsset": "USDT"},
		{"symbol": "LUNAUSDT", "status": "BREAK", "baseAsset": "LUNA", "quoteAsset": "USDT"}
	]
}`

func TestExchangeInfo(t *testing.T) {
	t.Run("all symbols", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/v3/exchangeInfo" {
				t.Errorf("path = %q", r.URL.Path)
			}
			if r.URL.RawQuery != "" {
				t.Errorf("query = %q, want none", r.URL.RawQuery)
			}
			w.Write([]byte(exchangeInfoBody))
		}))
		defer server.Close()

		info, err := NewClient(server.URL).ExchangeInfo(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if len(info.Symbols) != 3 || info.Symbols[0].BaseAsset != "BTC" || info.Symbols[0].BaseAssetPrecision != 8 {
			t.Errorf("info = %+v", info)
		}
	})

	t.Run("filtered symbols are upper-cased", func(t *testing.T) {
		var got string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = r.URL.Query().Get("symbols")
			w.Write([]byte(`{"symbols":[]}`))
		}))
		defer server.Close()

		if _, err := NewClient(server.URL).ExchangeInfo(context.Background(), "btcusdt", "ETHUSDT"); err != nil {
			t.Fatal(err)
		}
		if got != `["BTCUSDT","ETHUSDT"]` {
			t.Errorf("symbols param = %q", got)
		}
	})
}

func TestValidateSymbols(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(exchangeInfoBody))
	}))
	defer server.Close()

	valid, invalid, err := NewClient(server.URL).ValidateSymbols(context.Background(),
		[]string{"ethusdt", "btcusdt", "lunausdt", "fakeusdt"})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(valid, []string{"btcusdt", "ethusdt"}) {
		t.Errorf("valid = %v", valid)
	}
	if !reflect.DeepEqual(invalid, []string{"fakeusdt", "lunausdt"}) {
		t.Errorf("invalid = %v", invalid)
	}
}

func TestPingAndServerTime(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/ping":
			w.Write([]byte(`{}`))
		case "/api/v3/time":
			w.Write([]byte(`{"serverTime":1705320000000}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	c := NewClient(server.URL)
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	ts, err := c.ServerTime(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !ts.Equal(time.UnixMilli(1705320000000)) {
		t.Errorf("ServerTime = %v", ts)
	}
}

func TestJSONUnmarshalErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL).ExchangeInfo(context.Background())
	if err == nil || !strings.Contains(err.Error(), "unmarshal response") {
		t.Errorf("error = %v, want unmarshal error", err)
	}
}
