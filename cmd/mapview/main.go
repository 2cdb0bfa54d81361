package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"

	"road-telemetry-hub/analytics"
	"road-telemetry-hub/config"
	"road-telemetry-hub/mapview"
)

func main() {
	cfg := config.LoadMapView()
	slog.SetDefault(slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      cfg.LogLevel,
		TimeFormat: time.Kitchen,
	})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ds := mapview.NewDatasource(cfg.StoreHost, cfg.StorePort, cfg.UserID)
	planner := mapview.NewPlanner(analytics.TripConfig{
		ExpectedBatch: cfg.ExpectedBatch,
		PollInterval:  cfg.PollInterval,
		KmPerUnit:     cfg.KmPerUnit,
	}, analytics.DefaultCongestionThreshold)

	slog.Info("map view starting", "url", ds.URL(), "poll_interval", cfg.PollInterval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ds.Run(gctx) })
	g.Go(func() error {
		ticker := time.NewTicker(cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				frame := planner.Plan(ds.GetNewPoints())
				if frame.Empty() {
					slog.Debug("nothing to draw", "connected", ds.Connected())
					continue
				}
				slog.Info("frame", "user_id", cfg.UserID, "frame", frame)
			}
		}
	})

	if err := g.Wait(); err != nil {
		slog.Error("map view stopped", "err", err)
		os.Exit(1)
	}
}
