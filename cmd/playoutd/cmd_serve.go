/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/friendsincode/grimnir_playout/internal/cache"
	"github.com/friendsincode/grimnir_playout/internal/db"
	"github.com/friendsincode/grimnir_playout/internal/eventbus"
	"github.com/friendsincode/grimnir_playout/internal/events"
	"github.com/friendsincode/grimnir_playout/internal/mediaengine"
	"github.com/friendsincode/grimnir_playout/internal/playout"
	"github.com/friendsincode/grimnir_playout/internal/server"
	"github.com/friendsincode/grimnir_playout/internal/telemetry"
	"github.com/friendsincode/grimnir_playout/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run playout for every configured channel",
	Long:  "Start the playout engine for each channel in the channels file and serve metrics, health and status on the operations endpoint.",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().Str("version", version.String()).Str("instance", cfg.InstanceID).Msg("Grimnir Playout starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize OpenTelemetry tracing
	tracerProvider, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:    "grimnir-playout",
		ServiceVersion: version.Version,
		InstanceID:     cfg.InstanceID,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown tracer provider")
		}
	}()

	channels, err := loadChannels()
	if err != nil {
		return err
	}

	b, err := openBackends(ctx, channels)
	if err != nil {
		return err
	}
	defer b.Close()

	bus := events.NewBus()
	manager, err := playout.NewManager(playout.ManagerOptions{
		Config:   cfg,
		Channels: channels,
		Store:    b.store,
		Bus:      bus,
		Prober:   mediaengine.NewProber(cfg.FFprobeBin, logger),
		Cache:    b.cache,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("initialize playout: %w", err)
	}

	mirrors, closeMirrors, err := startMirrors(bus)
	if err != nil {
		return err
	}
	defer closeMirrors()

	ops := server.New(cfg.MetricsBind, manager, logger)

	// Channels are stopped through the manager before the run context is
	// cancelled so the final statuses still reach the mirrors.
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return manager.Run(gctx) })
	g.Go(ops.ListenAndServe)
	for _, run := range mirrors {
		run := run
		g.Go(func() error { return run(gctx) })
	}
	if b.db != nil {
		g.Go(func() error {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				db.UpdateConnectionMetrics(b.db)
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		})
	}
	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-gctx.Done():
		}
		logger.Info().Msg("shutting down gracefully...")

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := manager.Shutdown(timeoutCtx); err != nil {
			logger.Error().Err(err).Msg("channel shutdown incomplete")
		}
		if err := ops.Shutdown(timeoutCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
		}
		cancelRun()
		return nil
	})

	err = g.Wait()
	logger.Info().Msg("Grimnir Playout stopped")
	return err
}

// startMirrors builds the optional status mirrors: the redis status keys
// and event channels, and the NATS event subjects.
func startMirrors(bus *events.Bus) ([]func(context.Context) error, func(), error) {
	var runs []func(context.Context) error
	var closers []func() error
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn().Err(err).Msg("failed to close mirror")
			}
		}
	}

	if cfg.RedisAddr != "" {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = cfg.RedisAddr
		cacheCfg.RedisPassword = cfg.RedisPassword
		cacheCfg.RedisDB = cfg.RedisDB
		cacheCfg.StatusTTL = cfg.StatusTTL
		statusCache := cache.New(cacheCfg, logger)
		closers = append(closers, statusCache.Close)
		runs = append(runs, cache.NewStatusMirror(statusCache, bus, logger).Run)

		redisCfg := eventbus.DefaultRedisConfig()
		redisCfg.Addr = cfg.RedisAddr
		redisCfg.Password = cfg.RedisPassword
		redisCfg.DB = cfg.RedisDB
		sink := eventbus.NewRedisSink(redisCfg, logger)
		closers = append(closers, sink.Close)
		runs = append(runs, eventbus.NewForwarder(bus, sink, cfg.InstanceID, logger).Run)
	}

	if cfg.NATSURL != "" {
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		natsCfg.Token = cfg.NATSToken
		natsCfg.SubjectRoot = cfg.NATSSubjectRoot
		natsCfg.Name = "playoutd-" + cfg.InstanceID
		sink, err := eventbus.NewNATSSink(natsCfg, logger)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, sink.Close)
		runs = append(runs, eventbus.NewForwarder(bus, sink, cfg.InstanceID, logger).Run)
	}

	return runs, closeAll, nil
}
