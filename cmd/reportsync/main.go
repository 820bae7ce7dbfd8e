// Command reportsync runs one report lifecycle, or one local file, through ingestion.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rpattn/marketsync/internal/app"
	"github.com/rpattn/marketsync/internal/config"
	"github.com/rpattn/marketsync/internal/domain"
	"github.com/rpattn/marketsync/internal/ingestion"
	"github.com/rpattn/marketsync/internal/workers/reportrunner"
)

const dateLayout = "2006-01-02"

func main() {
	var (
		configDir  = flag.String("config", ".", "directory containing config.yaml")
		reportType = flag.String("type", "GET_MERCHANT_LISTINGS_ALL_DATA", "report type to request")
		localeFlag = flag.String("locale", "US", "storefront (US, DE, UK, ...)")
		startFlag  = flag.String("start", "", "data start date (YYYY-MM-DD)")
		endFlag    = flag.String("end", "", "data end date (YYYY-MM-DD)")
		file       = flag.String("file", "", "ingest this local file instead of requesting a report")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(*configDir, *reportType, *localeFlag, *startFlag, *endFlag, *file, logger); err != nil {
		logger.Error("reportsync failed", "error", err)
		os.Exit(1)
	}
}

func run(configDir, reportType, localeRaw, startRaw, endRaw, file string, logger *slog.Logger) error {
	locale, err := domain.ParseLocale(localeRaw)
	if err != nil {
		return err
	}
	start, err := parseDate(startRaw)
	if err != nil {
		return fmt.Errorf("invalid -start: %w", err)
	}
	end, err := parseDate(endRaw)
	if err != nil {
		return fmt.Errorf("invalid -end: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configDir, logger)
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var result domain.IngestionResult
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		result, err = a.Ingestion.Ingest(ctx, ingestion.Request{
			Locale:   locale,
			FileName: filepath.Base(file),
			Source:   f,
			Origin:   domain.IngestionOriginUpload,
		})
		if err != nil {
			return err
		}
	} else {
		if a.Pipeline == nil {
			return errors.New("marketplace credentials are not configured")
		}
		req := domain.NewReportRequest(reportType, locale, cfg.Marketplace.MarketplaceIDs, start, end)
		stored, res, err := reportrunner.ProcessInline(ctx, a.Reports, a.Pipeline, req)
		if err != nil {
			return fmt.Errorf("report %s: %w", stored.ID, err)
		}
		result = res
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func parseDate(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
