// Package reportrunner drives stored report requests through the full pipeline:
// report lifecycle, document download and ingestion.
package reportrunner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rpattn/marketsync/internal/domain"
	"github.com/rpattn/marketsync/internal/ingestion"
	"github.com/rpattn/marketsync/internal/reports"
)

// Lifecycle moves a request to DONE and resolves its document.
type Lifecycle interface {
	Run(ctx context.Context, req *domain.ReportRequest) (domain.ReportDocument, error)
}

// Downloader stores a resolved document locally.
type Downloader interface {
	Fetch(ctx context.Context, doc domain.ReportDocument, naming reports.Naming) (string, error)
}

// Ingester loads a downloaded file into the product store.
type Ingester interface {
	Ingest(ctx context.Context, req ingestion.Request) (domain.IngestionResult, error)
}

// Processor performs the work for one claimed request.
type Processor interface {
	Process(ctx context.Context, req *domain.ReportRequest) (domain.IngestionResult, error)
}

// Pipeline is the production Processor.
type Pipeline struct {
	lifecycle  Lifecycle
	downloader Downloader
	ingester   Ingester
	store      reports.StatusRecorder
	logger     *slog.Logger
	nowFunc    func() time.Time
}

// NewPipeline wires the three stages together. store records ingestion progress
// of DONE requests and may be nil.
func NewPipeline(lifecycle Lifecycle, downloader Downloader, ingester Ingester, store reports.StatusRecorder, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		lifecycle:  lifecycle,
		downloader: downloader,
		ingester:   ingester,
		store:      store,
		logger:     logger,
		nowFunc:    time.Now,
	}
}

// Process runs the request to completion and ingests the resulting document.
// Once the request is DONE a failure is recorded on it and the status is kept,
// so the next claim retries from the document lookup.
func (p *Pipeline) Process(ctx context.Context, req *domain.ReportRequest) (domain.IngestionResult, error) {
	result, err := p.process(ctx, req)
	if err != nil {
		if req.AwaitingIngestion() && ctx.Err() == nil {
			p.recordFailure(ctx, req, err)
		}
		return result, err
	}

	now := p.nowFunc().UTC()
	req.IngestedAt = &now
	req.ErrorMessage = nil
	p.record(ctx, req)
	return result, nil
}

func (p *Pipeline) process(ctx context.Context, req *domain.ReportRequest) (domain.IngestionResult, error) {
	doc, err := p.lifecycle.Run(ctx, req)
	if err != nil {
		return domain.IngestionResult{}, err
	}

	path, err := p.downloader.Fetch(ctx, doc, reports.NamingFor(*req))
	if err != nil {
		return domain.IngestionResult{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return domain.IngestionResult{}, fmt.Errorf("failed to open downloaded report %s: %w", path, err)
	}
	defer f.Close()

	result, err := p.ingester.Ingest(ctx, ingestion.Request{
		Locale:   req.Locale,
		FileName: filepath.Base(path),
		Source:   f,
		Origin:   domain.IngestionOriginReport,
	})
	if err != nil {
		return result, fmt.Errorf("failed to ingest report %s: %w", req.ID, err)
	}
	p.logger.Info("report ingested",
		"request_id", req.ID.String(),
		"report_type", req.ReportType,
		"locale", req.Locale.String(),
		"file", path,
		"inserted", result.Inserted,
		"errors", len(result.Errors),
	)
	return result, nil
}

func (p *Pipeline) recordFailure(ctx context.Context, req *domain.ReportRequest, cause error) {
	message := "ingestion failed: " + cause.Error()
	req.ErrorMessage = &message
	p.record(ctx, req)
}

func (p *Pipeline) record(ctx context.Context, req *domain.ReportRequest) {
	req.UpdatedAt = p.nowFunc().UTC()
	if p.store == nil {
		return
	}
	if err := p.store.Save(context.WithoutCancel(ctx), *req); err != nil {
		p.logger.Error("failed to record ingestion state",
			"request_id", req.ID.String(),
			"status", req.Status,
			"error", err,
		)
	}
}
