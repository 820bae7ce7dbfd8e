package reportrunner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/marketsync/internal/domain"
	"github.com/rpattn/marketsync/internal/repository"
)

// Queue is the part of the report repository the runner depends on.
type Queue interface {
	Create(ctx context.Context, req domain.ReportRequest) (domain.ReportRequest, error)
	ClaimNext(ctx context.Context) (domain.ReportRequest, error)
	Release(ctx context.Context, id uuid.UUID) error
}

// Run claims pending requests every pollInterval and processes them on concurrency workers.
// It blocks until ctx is cancelled and every worker has returned.
func Run(ctx context.Context, queue Queue, processor Processor, concurrency int, pollInterval time.Duration, logger *slog.Logger) {
	if concurrency < 1 {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	jobs := make(chan domain.ReportRequest)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for req := range jobs {
				work(ctx, queue, processor, req, logger.With("worker", idx))
			}
		}(i)
	}

	defer func() {
		close(jobs)
		wg.Wait()
	}()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if !dispatch(ctx, queue, jobs, logger) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// dispatch hands claimed requests to workers until the queue is empty. It reports false once ctx ends.
func dispatch(ctx context.Context, queue Queue, jobs chan<- domain.ReportRequest, logger *slog.Logger) bool {
	for {
		if ctx.Err() != nil {
			return false
		}
		req, err := queue.ClaimNext(ctx)
		if errors.Is(err, repository.ErrNotFound) {
			return true
		}
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			logger.Error("report claim failed", "error", err)
			return true
		}
		select {
		case jobs <- req:
		case <-ctx.Done():
			release(ctx, queue, req, logger)
			return false
		}
	}
}

func work(ctx context.Context, queue Queue, processor Processor, req domain.ReportRequest, logger *slog.Logger) {
	logger = logger.With("request_id", req.ID.String(), "report_type", req.ReportType, "locale", req.Locale.String())
	start := time.Now()
	result, err := processor.Process(ctx, &req)
	if err != nil {
		if ctx.Err() != nil {
			release(ctx, queue, req, logger)
			logger.Info("report processing interrupted", "status", req.Status)
			return
		}
		logger.Error("report processing failed", "status", req.Status, "error", err)
		return
	}
	logger.Info("report processed",
		"duration", time.Since(start),
		"processed", result.Processed,
		"inserted", result.Inserted,
	)
}

func release(ctx context.Context, queue Queue, req domain.ReportRequest, logger *slog.Logger) {
	if err := queue.Release(context.WithoutCancel(ctx), req.ID); err != nil {
		logger.Warn("failed to release report request", "request_id", req.ID.String(), "error", err)
	}
}

// ProcessInline stores req (when queue is non-nil) and runs it synchronously with the worker logic.
func ProcessInline(ctx context.Context, queue Queue, processor Processor, req domain.ReportRequest) (domain.ReportRequest, domain.IngestionResult, error) {
	if queue != nil {
		created, err := queue.Create(ctx, req)
		if err != nil {
			return req, domain.IngestionResult{}, err
		}
		req = created
	}
	result, err := processor.Process(ctx, &req)
	return req, result, err
}
