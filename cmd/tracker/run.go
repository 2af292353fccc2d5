package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skywatch/opensky-tracker/internal/cache"
	"github.com/skywatch/opensky-tracker/internal/opensky"
	"github.com/skywatch/opensky-tracker/internal/quota"
	"github.com/skywatch/opensky-tracker/internal/retry"
	"github.com/skywatch/opensky-tracker/internal/session"
	"github.com/skywatch/opensky-tracker/internal/store"
)

func newRunCmd() *cobra.Command {
	var ids []string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the acquisition daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(ids)
		},
	}

	cmd.Flags().StringSliceVar(&ids, "icao24", nil, "transponder addresses to track")
	return cmd
}

func runDaemon(ids []string) error {
	limits := cfg.QuotaLimits()

	logger.Info("starting tracker",
		zap.String("tier", cfg.API.Tier),
		zap.Int("short_limit", limits.ShortLimit),
		zap.Int("daily_limit", limits.DailyLimit),
		zap.Int("max_batch", limits.MaxBatchSize),
		zap.Int("tracked", len(ids)),
	)

	tracker := quota.NewTracker(quota.Config{
		ShortLimit:    limits.ShortLimit,
		ShortWindow:   limits.ShortWindow,
		DailyLimit:    limits.DailyLimit,
		DailyWindow:   limits.DailyWindow,
		FuseThreshold: cfg.Quota.FuseThreshold,
		BackoffFloor:  time.Second,
		BackoffCap:    5 * time.Minute,
	}, logger)

	client := opensky.NewClient(
		cfg.API.BaseURL,
		cfg.API.Username,
		cfg.API.Password,
		cfg.API.RatePerSec,
		cfg.RequestTimeout(),
		logger,
	)

	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0755); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}
	db, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening tracking store: %w", err)
	}
	defer db.Close()

	mgr := session.NewManager(session.Options{
		Fetcher:       client,
		Quota:         tracker,
		Cache:         cache.New(cfg.CacheTTL()),
		Store:         db,
		Retry:         retry.NewCoordinator(tracker, logger),
		MaxBatchSize:  limits.MaxBatchSize,
		MinInterval:   cfg.MinInterval(),
		MaxInterval:   cfg.MaxInterval(),
		MaxConcurrent: cfg.Polling.MaxConcurrentRequests,
		PushURL:       cfg.Push.URL,
		PushAttempts:  cfg.Push.ReconnectAttempts,
		Logger:        logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := mgr.StartSession(ctx)
	sess.Track(ids...)

	// Drain updates; consumers attach here.
	go func() {
		for snap := range sess.Updates() {
			logger.Debug("position update",
				zap.String("icao24", snap.Icao24),
				zap.String("callsign", snap.Callsign),
				zap.Float64("lat", snap.Latitude),
				zap.Float64("lon", snap.Longitude),
				zap.Bool("stale", snap.Stale),
			)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	mgr.StopAll()
	return nil
}
