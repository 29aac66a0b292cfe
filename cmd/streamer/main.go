package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/paperstream/internal/api"
	"github.com/rickgao/paperstream/internal/config"
	"github.com/rickgao/paperstream/internal/connection"
	"github.com/rickgao/paperstream/internal/database"
	"github.com/rickgao/paperstream/internal/events"
	"github.com/rickgao/paperstream/internal/market"
	"github.com/rickgao/paperstream/internal/metrics"
	"github.com/rickgao/paperstream/internal/pool"
	"github.com/rickgao/paperstream/internal/server"
	"github.com/rickgao/paperstream/internal/version"
	"github.com/rickgao/paperstream/internal/writer"
)

func main() {
	configPath := flag.String("config", "", "path to config file (environment only when empty)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Set up structured logging
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting streamer",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
		"exchange", cfg.Exchange.Name,
	)

	// Cancelled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus(logger)

	// Metrics
	recorder := metrics.NewRecorder(logger)
	go recorder.Run(ctx, bus.Subscribe())
	metricsServer := metrics.NewServer(recorder, cfg.Metrics.Port, cfg.Metrics.Path, logger)
	metricsServer.Start()

	// Optional audit database
	var (
		db    *pgxpool.Pool
		audit *writer.AuditWriter
	)
	if cfg.Database.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Postgres.Host,
			"port", cfg.Database.Postgres.Port,
			"database", cfg.Database.Postgres.Name,
		)
		db, err = database.Connect(ctx, cfg.Database.Postgres)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		audit = writer.NewAuditWriter(writerConfig(cfg.Writer), bus.Subscribe(events.LifecycleTypes...), db, logger)
		if err := audit.EnsureSchema(ctx); err != nil {
			logger.Error("failed to prepare audit schema", "error", err)
			os.Exit(1)
		}
		if err := audit.Start(ctx); err != nil {
			logger.Error("failed to start audit writer", "error", err)
			os.Exit(1)
		}
	}

	// Outbound exchange streams
	manager := connection.NewManager(managerConfig(cfg.Exchange), bus, logger)
	if err := manager.Start(ctx); err != nil {
		logger.Error("failed to start stream manager", "error", err)
		os.Exit(1)
	}

	// Inbound client pool and relay
	clients := pool.New(poolConfig(cfg.Pool), bus, logger)
	if err := clients.Start(ctx); err != nil {
		logger.Error("failed to start connection pool", "error", err)
		os.Exit(1)
	}
	relay := server.NewRelay(clients, logger)
	go relay.Run(ctx, bus.Subscribe(events.MarketTypes...))

	srv := server.New(serverConfig(cfg.Server), clients, manager, logger,
		server.WithMetricsHandler(recorder.Handler()))
	if err := srv.Start(); err != nil {
		logger.Error("failed to start server", "error", err)
		os.Exit(1)
	}

	// Default symbols. The registry rolls back and retries failed subscribes;
	// with validation on it also follows exchange trading status.
	symbols := cfg.Exchange.DefaultSymbols
	channels := cfg.Exchange.Channels()
	var registry *market.Registry
	if len(symbols) > 0 {
		var source market.SymbolSource = market.AllTrading{}
		if cfg.Exchange.ValidateSymbols {
			rest, err := newRestClient(ctx, cfg.Exchange, logger)
			if err != nil {
				logger.Error("exchange REST API unreachable", "error", err)
				os.Exit(1)
			}
			source = rest
		}
		registry = market.NewRegistry(registryConfig(cfg.Exchange), symbols, source, manager, logger)
		if err := registry.Start(ctx); err != nil {
			logger.Error("failed to start symbol registry", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("streamer running",
		"symbols", len(symbols),
		"channels", channels,
		"ws_port", cfg.Server.Port,
		"metrics_port", cfg.Metrics.Port,
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", "error", err)
	}
	clients.Stop(shutdownCtx)
	if registry != nil {
		registry.Stop(shutdownCtx)
	}
	manager.Stop(shutdownCtx)
	if audit != nil {
		audit.Stop(shutdownCtx)
	}
	metricsServer.Shutdown(shutdownCtx)
	bus.Close()

	logger.Info("streamer stopped")
}

func loadConfig(path string) (*config.StreamerConfig, error) {
	if path == "" {
		return config.FromEnv()
	}
	return config.LoadAndValidate(path)
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	level, _ := cfg.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// newRestClient builds the exchange REST client and checks it can reach the API.
func newRestClient(ctx context.Context, cfg config.ExchangeConfig, logger *slog.Logger) (*api.Client, error) {
	client := api.NewClient(cfg.RestURL,
		api.WithLogger(logger),
		api.WithTimeout(15*time.Second),
		api.WithRetries(3, time.Second),
		api.WithRateLimit(10, 5),
	)
	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping exchange: %w", err)
	}
	return client, nil
}
