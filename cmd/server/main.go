package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/clearbook/exchange/internal/api"
	"github.com/clearbook/exchange/internal/auth"
	"github.com/clearbook/exchange/internal/bookcache"
	"github.com/clearbook/exchange/internal/config"
	"github.com/clearbook/exchange/internal/db"
	"github.com/clearbook/exchange/internal/engine"
	"github.com/clearbook/exchange/internal/feed"
	"github.com/clearbook/exchange/internal/persist"
)

// Main entry point: wires config, database, matching engine, book cache,
// trade feed and HTTP server together.
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	ctx := context.Background()

	database, err := db.NewDB(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	// Rebuild the in-memory books from whatever was still resting when the
	// process last stopped. GetOpenOrders returns oldest-first, so time
	// priority survives the restart.
	eng := engine.New()
	openOrders, err := database.GetOpenOrders(ctx)
	if err != nil {
		log.Fatal("failed to load open orders", zap.Error(err))
	}
	eng.Restore(openOrders)
	log.Info("restored order books", zap.Int("open_orders", len(openOrders)))

	cache, err := bookcache.Open(cfg.Cache.Dir)
	if err != nil {
		log.Fatal("failed to open book cache", zap.Error(err))
	}
	defer cache.Close()

	persister := persist.NewWorker(database, log)
	persister.Start()
	defer persister.Stop()

	authService := auth.NewAuthService(database, cfg.Auth.JWTSecret, cfg.Auth.ParsedTTL)
	hub := feed.NewHub(log)

	handler := api.NewHandler(database, eng, authService, log)
	handler.Cache = cache
	handler.Persister = persister
	handler.Feed = hub

	if cfg.Kafka.Enabled() {
		publisher := feed.NewTradePublisher(cfg.Kafka.Brokers, cfg.Kafka.TradesTopic)
		defer publisher.Close()
		handler.Trades = publisher
		log.Info("trade publishing enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.TradesTopic))
	}

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: handler.Routes(hub),
	}

	go func() {
		log.Info("starting server", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown incomplete", zap.Error(err))
	}
}
