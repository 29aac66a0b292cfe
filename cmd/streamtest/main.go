// streamtest connects to exchange streams for one symbol and prints
// normalized messages and lifecycle events to the console.
// Usage: go run ./cmd/streamtest --symbol BTCUSDT --channels ticker,trade,depth20
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/paperstream/internal/config"
	"github.com/rickgao/paperstream/internal/connection"
	"github.com/rickgao/paperstream/internal/events"
	"github.com/rickgao/paperstream/internal/model"
)

func main() {
	symbol := flag.String("symbol", "BTCUSDT", "symbol to stream")
	channels := flag.String("channels", strings.Join(config.DefaultChannels, ","), "comma-separated channels")
	baseURL := flag.String("base-url", config.DefaultBaseURL, "exchange websocket base URL")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	bus := events.NewBus(logger)
	go printLifecycle(ctx, bus.Subscribe(events.LifecycleTypes...))

	mgrCfg := connection.DefaultManagerConfig()
	mgrCfg.BaseURL = *baseURL

	mgr := connection.NewManager(mgrCfg, bus, logger)
	if err := mgr.Start(ctx); err != nil {
		logger.Error("failed to start stream manager", "error", err)
		os.Exit(1)
	}

	handler := func(msg model.Message) { printMessage(msg, *verbose) }
	if err := mgr.SubscribeSymbolComplete(ctx, *symbol, strings.Split(*channels, ","), handler); err != nil {
		logger.Error("failed to subscribe", "symbol", *symbol, "error", err)
		mgr.UnsubscribeAll(*symbol)
		mgr.Stop(context.Background())
		os.Exit(1)
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := mgr.Stats()
				logger.Info("stats",
					"streams", stats.TotalStreams,
					"open", stats.OpenStreams,
					"reconnecting", stats.ReconnectingStreams,
					"received", stats.MessagesReceived,
					"parse_errors", stats.ParseErrors,
					"reconnects", stats.Reconnects,
					"healthy", mgr.IsHealthy(),
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop", "symbol", *symbol)

	// Wait for shutdown
	<-ctx.Done()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	mgr.Stop(shutdownCtx)
	bus.Close()

	logger.Info("shutdown complete")
}

func printMessage(msg model.Message, verbose bool) {
	if verbose {
		data, _ := json.MarshalIndent(msg, "", "  ")
		fmt.Printf("[%s] %s\n", strings.ToUpper(string(msg.Kind())), data)
		return
	}

	switch m := msg.(type) {
	case model.Ticker:
		fmt.Printf("[TICKER] symbol=%s last=%g bid=%g ask=%g vol=%g chg=%.2f%%\n",
			m.Symbol, m.Last, m.Bid, m.Ask, m.Volume, m.ChangePercent)
	case model.OrderBook:
		fmt.Printf("[ORDERBOOK] symbol=%s bids=%d asks=%d\n",
			m.Symbol, len(m.Bids), len(m.Asks))
	case model.Trade:
		fmt.Printf("[TRADE] symbol=%s id=%d price=%g qty=%g side=%s\n",
			m.Symbol, m.TradeID, m.Price, m.Quantity, m.Side)
	case model.Candle:
		fmt.Printf("[CANDLE] symbol=%s interval=%s o=%g h=%g l=%g c=%g closed=%t\n",
			m.Symbol, m.Interval, m.Open, m.High, m.Low, m.Close, m.Closed)
	}
}

func printLifecycle(ctx context.Context, sub *events.Subscription) {
	sub.Run(ctx, func(ev events.Event) {
		fmt.Printf("[EVENT] %s topic=%s data=%+v\n", ev.Type, ev.Topic, ev.Data)
	})
}
