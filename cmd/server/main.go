package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rpattn/marketsync/internal/app"
	"github.com/rpattn/marketsync/internal/config"
	"github.com/rpattn/marketsync/internal/httpapi"
	"github.com/rpattn/marketsync/internal/ingestion"
	"github.com/rpattn/marketsync/internal/workers/reportrunner"
)

func main() {
	configDir := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// Create context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configDir, logger)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	var workers sync.WaitGroup
	if a.Pipeline != nil && cfg.Reports.Workers > 0 {
		workers.Add(1)
		go func() {
			defer workers.Done()
			reportrunner.Run(ctx, a.Reports, a.Pipeline, cfg.Reports.Workers, cfg.Reports.DispatchInterval, logger)
		}()
		logger.Info("report workers started", "workers", cfg.Reports.Workers)
	}

	deps := httpapi.Deps{
		Reports:        a.Reports,
		Logs:           a.Logs,
		Uploads:        ingestion.NewHTTPHandler(a.Ingestion),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Logger:         logger,
	}
	if a.API != nil {
		deps.Scheduler = a.API
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      httpapi.New(deps).Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("starting http server", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	workers.Wait()

	logger.Info("server exited")
}
