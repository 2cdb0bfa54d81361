package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"

	"road-telemetry-hub/analytics"
	"road-telemetry-hub/cache"
	"road-telemetry-hub/config"
	"road-telemetry-hub/handlers"
	"road-telemetry-hub/hub"
	"road-telemetry-hub/ingest"
	"road-telemetry-hub/metrics"
	"road-telemetry-hub/store"
)

func main() {
	cfg := config.Load()
	slog.SetDefault(slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: cfg.LogLevel})))

	if err := run(cfg); err != nil {
		slog.Error("hub stopped", "err", err)
		os.Exit(1)
	}
	slog.Info("hub exited")
}

func run(cfg config.Hub) error {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()
	slog.Info("opened store", "path", cfg.DBPath)

	// Both stay nil interfaces when the cache is unavailable.
	var (
		latestCache  hub.LatestCache
		latestReader handlers.LatestReader
	)
	if cfg.RedisAddr != "" {
		redisClient, err := cache.NewRedisClient(cfg.RedisAddr)
		if err != nil {
			slog.Warn("redis unavailable, latest cache disabled", "addr", cfg.RedisAddr, "err", err)
		} else {
			defer redisClient.Close()
			latestCache, latestReader = redisClient, redisClient
			slog.Info("connected to redis", "addr", cfg.RedisAddr)
		}
	}

	registry := hub.NewRegistry(func(total int64) {
		metrics.Subscribers.Set(float64(total))
	})
	h := hub.New(st, registry, latestCache)
	h.OnPushFailure(metrics.PushFailuresTotal.Inc)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine := analytics.NewEngine(context.Background(), h, analytics.Config{
		BatchSize:           cfg.BatchSize,
		Workers:             cfg.AnalyticsWorkers,
		CongestionThreshold: cfg.CongestionThreshold,
		OnBatch: func(userID int, cls analytics.Classification) {
			for _, s := range cls.States {
				metrics.RoadStatesTotal.WithLabelValues(string(s)).Inc()
			}
		},
	})

	router := handlers.NewRouter(
		handlers.NewProcessedHandler(st, h, latestReader),
		handlers.NewWSHandler(h, engine, cfg.IdleTimeout),
	)
	srv := &http.Server{
		Addr:           cfg.HTTPAddr,
		Handler:        router,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server starting", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.MQTT.Enabled() {
		adapter := ingest.NewMQTT(cfg.MQTT, cfg.ReconnectBackoff, engine)
		g.Go(func() error { return adapter.Run(gctx) })
	} else {
		slog.Info("mqtt ingest disabled")
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		// Hijacked websockets are not tracked by Shutdown.
		registry.CloseAll()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	engine.Close()
	h.Close()
	return err
}
