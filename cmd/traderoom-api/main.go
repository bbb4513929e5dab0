package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"traderoom/internal/api"
	"traderoom/internal/config"
	"traderoom/internal/db"
	"traderoom/internal/notify"
	"traderoom/internal/room"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	var notifier room.Notifier
	rdb, err := notify.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		// Detection still runs synchronously in-process; only the
		// cross-process channel is lost, and the reconcile sweep covers it.
		logger.Warn("redis unavailable, room-change publishing disabled", "err", err)
	} else {
		defer rdb.Close()
		notifier = notify.NewPublisher(rdb)
	}

	store := room.NewPGStore(pool)
	results := room.NewPGResults(pool)
	rooms := room.NewService(store, results, notifier, logger)

	server := api.New(cfg, logger, rooms)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("traderoom api listening", "addr", cfg.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
