// Package app assembles the pipeline from configuration for the server and the CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/rpattn/marketsync/internal/awsutil"
	"github.com/rpattn/marketsync/internal/config"
	"github.com/rpattn/marketsync/internal/db"
	"github.com/rpattn/marketsync/internal/ingestion"
	"github.com/rpattn/marketsync/internal/lwa"
	"github.com/rpattn/marketsync/internal/reports"
	"github.com/rpattn/marketsync/internal/repository"
	"github.com/rpattn/marketsync/internal/sigv4"
	"github.com/rpattn/marketsync/internal/spapi"
	"github.com/rpattn/marketsync/internal/workers/reportrunner"
)

// App holds every long-lived collaborator.
type App struct {
	Config    config.Config
	Logger    *slog.Logger
	Conn      *db.Connection
	Reports   repository.ReportRepository
	Logs      repository.IngestionLogRepository
	Ingestion *ingestion.Service
	// API and Pipeline are nil when marketplace credentials are missing.
	API      *spapi.Client
	Pipeline *reportrunner.Pipeline
}

// New connects to the database, applies migrations and wires the pipeline.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.RunMigrations(conn.Pool, logger); err != nil {
		conn.Close()
		return nil, err
	}

	a := &App{
		Config:  cfg,
		Logger:  logger,
		Conn:    conn,
		Reports: repository.NewReportRepository(conn, cfg.Reports.ClaimLease),
		Logs:    repository.NewIngestionLogRepository(conn.Pool),
	}

	opts := []ingestion.Option{ingestion.WithLogger(logger)}
	if cfg.Notify.QueueURL != "" {
		awsCfg, _, err := awsutil.Load(ctx, cfg.Notify.Region)
		if err != nil {
			conn.Close()
			return nil, err
		}
		opts = append(opts, ingestion.WithNotifier(awsutil.NewSQSNotifier(awsutil.NewSQSClient(awsCfg), cfg.Notify.QueueURL)))
		logger.Info("ingestion notifications enabled", "queue_url", cfg.Notify.QueueURL)
	}
	a.Ingestion = ingestion.NewService(
		repository.NewProductRepository(conn),
		repository.NewCategoryRepository(conn.Pool),
		a.Logs,
		opts...,
	)

	if !cfg.Marketplace.Configured() {
		logger.Warn("marketplace credentials missing, report pipeline disabled")
		return a, nil
	}

	a.API, err = NewMarketplaceClient(cfg.Marketplace, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}

	var archiver reports.Archiver
	if cfg.Storage.Bucket != "" {
		awsCfg, endpoint, err := awsutil.Load(ctx, cfg.Storage.Region)
		if err != nil {
			conn.Close()
			return nil, err
		}
		archiver = awsutil.NewS3Archiver(awsutil.NewS3Client(awsCfg, endpoint), cfg.Storage.Bucket, cfg.Storage.Prefix, logger)
		logger.Info("report archive enabled", "bucket", cfg.Storage.Bucket)
	}

	if err := os.MkdirAll(cfg.Reports.DownloadDir, 0o755); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create download dir: %w", err)
	}

	orchestrator := reports.NewOrchestrator(a.API, a.Reports, reports.PollPolicy{
		Interval:    cfg.Reports.PollInterval,
		MaxAttempts: cfg.Reports.MaxAttempts,
	}, logger)
	fetcher := reports.NewFetcher(&http.Client{Timeout: 30 * time.Minute}, cfg.Reports.DownloadDir, archiver, logger)
	a.Pipeline = reportrunner.NewPipeline(orchestrator, fetcher, a.Ingestion, a.Reports, logger)
	return a, nil
}

// NewMarketplaceClient builds the signed API client for the configured region.
func NewMarketplaceClient(cfg config.MarketplaceConfig, logger *slog.Logger) (*spapi.Client, error) {
	endpoint, err := spapi.LookupEndpoint(cfg.Region)
	if err != nil {
		return nil, err
	}

	tokenOpts := []lwa.Option{lwa.WithLogger(logger)}
	if cfg.TokenURL != "" {
		tokenOpts = append(tokenOpts, lwa.WithTokenURL(cfg.TokenURL))
	}
	tokens := lwa.NewTokenManager(lwa.Credentials{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RefreshToken: cfg.RefreshToken,
	}, tokenOpts...)

	signer := &sigv4.Signer{
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretKey,
		Region:          endpoint.AWSRegion,
		Service:         spapi.SigningService,
	}

	return spapi.NewClient(spapi.ClientConfig{
		BaseURL:           cfg.BaseURL,
		Endpoint:          endpoint,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	}, tokens, signer, logger)
}

// Close releases the database pool.
func (a *App) Close() {
	if a.Conn != nil {
		a.Conn.Close()
	}
}
