// Package main wires together the report listener binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/iceout-archive/report-listener/internal/api"
	"github.com/iceout-archive/report-listener/internal/browser"
	"github.com/iceout-archive/report-listener/internal/clock"
	"github.com/iceout-archive/report-listener/internal/collector"
	"github.com/iceout-archive/report-listener/internal/config"
	"github.com/iceout-archive/report-listener/internal/cursor"
	"github.com/iceout-archive/report-listener/internal/listener"
	"github.com/iceout-archive/report-listener/internal/logging"
	"github.com/iceout-archive/report-listener/internal/metrics"
	"github.com/iceout-archive/report-listener/internal/store"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil && !errors.Is(syncErr, syscall.EINVAL) {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()
	clk := clock.NewSystem()

	st, err := store.New(ctx, store.Config{
		DSN:       cfg.DB.DSN,
		SourceURL: cfg.Target.URL,
		MaxConns:  cfg.DB.MaxConns,
	}, logger)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer st.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = st.Ping(pingCtx)
	cancel()
	if err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}

	mgr := browser.NewManager(browser.Config{
		WSEndpoint: cfg.Browser.WSEndpoint,
		TargetURL:  cfg.Target.URL,
	}, logger)
	defer mgr.Close()

	col := collector.New(collector.Config{
		PageSize:          cfg.Scrape.PageSize,
		MaxPages:          cfg.Scrape.MaxPages,
		DetailConcurrency: cfg.Scrape.DetailConcurrency,
	}, clk, logger)

	tracker := cursor.New()
	state := listener.NewState()
	cycle := listener.NewCycle(listener.CycleConfig{
		TargetURL:    cfg.Target.URL,
		LookbackDays: cfg.Scrape.LookbackDays,
	}, mgr, col, st, tracker, clk, logger)
	loop := listener.NewLoop(listener.LoopConfig{
		PollInterval: cfg.Loop.PollInterval,
		BackoffBase:  cfg.Loop.BackoffBase,
		BackoffMax:   cfg.Loop.BackoffMax,
		RunOnce:      cfg.Loop.RunOnce,
	}, cycle, state, clk, logger)

	var httpServer *http.Server
	if cfg.Server.Enabled {
		srv := api.NewServer(state, loop, api.HealthConfig{
			TargetURL:      cfg.Target.URL,
			LookbackDays:   cfg.Scrape.LookbackDays,
			PollIntervalMs: cfg.Loop.PollInterval.Milliseconds(),
			MaxPages:       cfg.Scrape.MaxPages,
			PageSize:       cfg.Scrape.PageSize,
		}, logger)
		httpServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("health server listening", zap.String("addr", httpServer.Addr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("health server failed", zap.Error(err))
			}
		}()
	}

	// On the first signal the shutdown flag goes up immediately, so the
	// health view reports it and manual triggers become no-ops while the
	// in-flight cycle drains.
	go func() {
		<-ctx.Done()
		state.BeginShutdown()
	}()

	logger.Info("listener starting",
		zap.String("target_url", cfg.Target.URL),
		zap.Int("lookback_days", cfg.Scrape.LookbackDays),
		zap.Duration("poll_interval", cfg.Loop.PollInterval),
		zap.Bool("run_once", cfg.Loop.RunOnce),
	)
	loop.Run(ctx)

	// The loop has drained. A run-now cycle started just before the flag
	// went up may still be in flight: closing the manager cancels its
	// session, and the deferred pool close blocks until any open
	// transaction settles, so the batch either commits or rolls back.
	state.BeginShutdown()
	logger.Info("shutting down")

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("health server shutdown failed", zap.Error(err))
		}
		cancel()
	}
	mgr.Close()
}
