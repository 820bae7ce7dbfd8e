package domain

import "github.com/google/uuid"

// IngestionOrigin marks where an ingestion batch came from.
type IngestionOrigin string

const (
	IngestionOriginUpload IngestionOrigin = "upload"
	IngestionOriginReport IngestionOrigin = "report"
)

// MissingLookup records a row whose foreign reference could not be resolved.
type MissingLookup struct {
	RowNumber  int    `json:"rowNumber"`
	ExternalID string `json:"externalId"`
	RawValue   string `json:"rawValue"`
	Reason     string `json:"reason"`
}

// RowError records a row rejected by field validation.
type RowError struct {
	RowNumber  int    `json:"rowNumber"`
	ExternalID string `json:"externalId,omitempty"`
	Field      string `json:"field,omitempty"`
	Value      string `json:"value,omitempty"`
	Reason     string `json:"reason"`
}

// IngestionResult summarises one ingestion batch. Partial success is normal.
type IngestionResult struct {
	// RunID keys the ingestion log entries written for this batch.
	RunID          uuid.UUID       `json:"runId"`
	Processed      int             `json:"processed"`
	Duplicates     int             `json:"duplicates"`
	DuplicateKeys  []string        `json:"duplicateKeys"`
	MissingLookups []MissingLookup `json:"missingLookups"`
	Errors         []RowError      `json:"errors"`
	Inserted       int             `json:"inserted"`
	Accepted       int             `json:"accepted"`
}

// NewIngestionResult returns a result with non-nil slices so it encodes as [] rather than null.
func NewIngestionResult() IngestionResult {
	return IngestionResult{
		DuplicateKeys:  []string{},
		MissingLookups: []MissingLookup{},
		Errors:         []RowError{},
	}
}
