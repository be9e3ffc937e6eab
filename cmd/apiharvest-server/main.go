// Package main provides the HTTP server for apiharvest.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/apiharvest/internal/app"
	"github.com/raphaelgruber/apiharvest/internal/config"
	"github.com/raphaelgruber/apiharvest/internal/server"
)

// runDrainTimeout bounds how long shutdown waits for a cancelled run to record
// its final state.
const runDrainTimeout = 15 * time.Second

func main() {
	wipeDB := flag.Bool("wipe", false, "wipe all data from database on startup (testing only)")
	scheduleSource := flag.String("schedule-source", "github", "source for scheduled runs (github or apisguru)")
	flag.Parse()

	cfg := config.Load()

	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel, true)
	defer cleanup()
	slog.SetDefault(logger)

	slog.Info("starting apiharvest-server", "addr", cfg.Addr())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	a, err := app.New(ctx, cfg, logger, true)
	if err != nil {
		cancel()
		slog.Error("failed to initialize", "error", err)
		os.Exit(1)
	}

	if *wipeDB || os.Getenv("APIHARVEST_WIPE_DB") == "true" {
		if err := a.DB.WipeData(ctx); err != nil {
			cancel()
			slog.Error("failed to wipe database", "error", err)
			os.Exit(1)
		}
	}

	// Runs cut short by the previous process can never finish.
	if n, err := a.DB.FailInterruptedRuns(ctx, "interrupted by server restart"); err != nil {
		slog.Warn("failed to mark interrupted runs", "error", err)
	} else if n > 0 {
		slog.Info("marked interrupted runs as failed", "count", n)
	}
	cancel()

	defer func() {
		if err := a.Close(context.Background()); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}()

	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()

	srvCfg := server.Config{
		Runner:      a.Runner,
		Catalog:     a.DB,
		Sources:     a.Source,
		Metrics:     a.Metrics,
		Logger:      logger,
		BaseContext: runCtx,
	}
	srv := server.New(srvCfg)

	var sched *server.Scheduler
	if cfg.CronSchedule != "" {
		sched, err = server.NewScheduler(cfg.CronSchedule, app.SourceRequest{Source: *scheduleSource}, srvCfg)
		if err != nil {
			slog.Error("failed to create scheduler", "error", err)
			os.Exit(1)
		}
		sched.Start()
	}

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      srv.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("API available", "url", "http://"+cfg.Addr()+"/api/runs")
		slog.Info("metrics available", "url", "http://"+cfg.Addr()+"/metrics")

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	if sched != nil {
		<-sched.Stop().Done()
	}

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	cancelRuns()
	deadline := time.Now().Add(runDrainTimeout)
	for a.Runner.Active() && time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
	}
	if a.Runner.Active() {
		slog.Warn("run still active at shutdown, it will be marked failed on next start")
	}

	slog.Info("server stopped")
}
