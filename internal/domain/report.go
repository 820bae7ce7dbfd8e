package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReportStatus captures lifecycle state for a report request.
type ReportStatus string

const (
	ReportStatusRequested  ReportStatus = "REQUESTED"
	ReportStatusInProgress ReportStatus = "IN_PROGRESS"
	ReportStatusDone       ReportStatus = "DONE"
	ReportStatusFatal      ReportStatus = "FATAL"
)

// Terminal reports whether no further transition is allowed.
func (s ReportStatus) Terminal() bool {
	return s == ReportStatusDone || s == ReportStatusFatal
}

// AwaitingIngestion reports whether the document is ready but not yet loaded.
func (r ReportRequest) AwaitingIngestion() bool {
	return r.Status == ReportStatusDone && r.IngestedAt == nil
}

// CompressionAlgorithm describes how a report document body is encoded.
type CompressionAlgorithm string

const (
	CompressionGzip CompressionAlgorithm = "GZIP"
	CompressionNone CompressionAlgorithm = "NONE"
)

// ReportRequest tracks one asynchronous report generation from creation to document.
type ReportRequest struct {
	ID               uuid.UUID    `json:"id"`
	ReportType       string       `json:"report_type"`
	MarketplaceIDs   []string     `json:"marketplace_ids"`
	Locale           Locale       `json:"locale"`
	DataStartTime    *time.Time   `json:"data_start_time,omitempty"`
	DataEndTime      *time.Time   `json:"data_end_time,omitempty"`
	Status           ReportStatus `json:"status"`
	ReportID         string       `json:"report_id,omitempty"`
	ReportDocumentID *string      `json:"report_document_id,omitempty"`
	Attempts         int          `json:"attempts"`
	ErrorMessage     *string      `json:"error_message,omitempty"`
	IngestedAt       *time.Time   `json:"ingested_at,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// NewReportRequest creates a request in its initial REQUESTED state.
func NewReportRequest(reportType string, locale Locale, marketplaceIDs []string, start, end *time.Time) ReportRequest {
	now := time.Now().UTC()
	ids := append([]string(nil), marketplaceIDs...)
	if len(ids) == 0 && locale.MarketplaceID() != "" {
		ids = []string{locale.MarketplaceID()}
	}
	return ReportRequest{
		ID:             uuid.New(),
		ReportType:     reportType,
		MarketplaceIDs: ids,
		Locale:         locale,
		DataStartTime:  start,
		DataEndTime:    end,
		Status:         ReportStatusRequested,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// ReportDocument points at the provider generated file for a finished report.
type ReportDocument struct {
	ReportDocumentID     string               `json:"reportDocumentId"`
	URL                  string               `json:"url"`
	CompressionAlgorithm CompressionAlgorithm `json:"compressionAlgorithm,omitempty"`
}

// Compressed reports whether the document body must be inflated.
func (d ReportDocument) Compressed() bool {
	return d.CompressionAlgorithm == CompressionGzip
}
