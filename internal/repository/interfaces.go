package repository

import (
	"context"
	"errors"

	"github.com/rpattn/marketsync/internal/domain"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a lookup by id matches nothing.
var ErrNotFound = errors.New("not found")

// CategoryRepository resolves marketplace categories by their localized display name.
type CategoryRepository interface {
	// FindByNames matches names case-insensitively against the locale's name column.
	// The result is keyed by the lower-cased, whitespace-collapsed name.
	FindByNames(ctx context.Context, locale domain.Locale, names []string) (map[string]domain.Category, error)
	Upsert(ctx context.Context, category domain.Category) error
}

// BulkInsertOptions tunes ProductRepository.BulkInsert.
type BulkInsertOptions struct {
	// IgnoreDuplicates skips rows whose (asin, locale) already exists instead of failing the batch.
	IgnoreDuplicates bool
}

// ProductRepository persists validated product snapshots.
type ProductRepository interface {
	// BulkInsert writes all records in one transaction and returns how many rows were inserted.
	BulkInsert(ctx context.Context, records []domain.ProductRecord, opts BulkInsertOptions) (int, error)
}

// ReportRepository stores report requests and hands them to workers.
type ReportRepository interface {
	Create(ctx context.Context, req domain.ReportRequest) (domain.ReportRequest, error)
	Get(ctx context.Context, id uuid.UUID) (domain.ReportRequest, error)
	// ClaimNext locks the oldest non-terminal request that is due and bumps its claim time.
	// It returns ErrNotFound when nothing is waiting.
	ClaimNext(ctx context.Context) (domain.ReportRequest, error)
	// Save writes the lifecycle fields. A FATAL row is never overwritten.
	Save(ctx context.Context, req domain.ReportRequest) error
	// Release clears a claim so the request can be picked up again immediately.
	Release(ctx context.Context, id uuid.UUID) error
}

// IngestionLogRepository stores ingestion errors for observability.
type IngestionLogRepository interface {
	Record(ctx context.Context, entry domain.IngestionLogEntry) error
	List(ctx context.Context, runID uuid.UUID, limit int, offset int) ([]domain.IngestionLogEntry, error)
}
