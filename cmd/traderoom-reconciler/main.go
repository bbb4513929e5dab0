package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

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

	cfg, err := config.LoadReconcilerFromEnv()
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

	store := room.NewPGStore(pool)
	results := room.NewPGResults(pool)
	rooms := room.NewService(store, results, nil, logger)

	if cfg.SweepRunOnce {
		checked, err := rooms.ReconcileAll(ctx)
		if err != nil {
			logger.Error("sweep failed", "err", err, "checked", checked)
			os.Exit(1)
		}
		logger.Info("sweep run-once completed", "checked", checked)
		return
	}

	if !cfg.DisablePubSub {
		rdb, err := notify.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logger.Warn("redis unavailable, relying on periodic sweep only", "err", err)
		} else {
			defer rdb.Close()
			sub := notify.NewSubscriber(rdb, logger)
			go func() {
				if err := sub.Run(ctx, rooms.ForceReconcile); err != nil && ctx.Err() == nil {
					logger.Error("subscriber stopped", "err", err)
				}
			}()
		}
	}

	ticker := time.NewTicker(cfg.SweepEvery)
	defer ticker.Stop()

	logger.Info("reconciler started", "sweep_every", cfg.SweepEvery.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("reconciler shutdown")
			return
		case <-ticker.C:
			checked, err := rooms.ReconcileAll(ctx)
			if err != nil {
				logger.Error("sweep failed", "err", err, "checked", checked)
				continue
			}
			logger.Info("sweep complete", "checked", checked)
		}
	}
}
