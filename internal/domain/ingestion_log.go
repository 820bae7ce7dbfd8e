package domain

import (
	"time"

	"github.com/google/uuid"
)

// IngestionLogEntry captures row level issues that occur during ingestion.
type IngestionLogEntry struct {
	ID           uuid.UUID       `json:"id"`
	RunID        uuid.UUID       `json:"run_id"`
	Locale       Locale          `json:"locale"`
	Origin       IngestionOrigin `json:"origin"`
	FileName     string          `json:"file_name"`
	RowNumber    *int            `json:"row_number,omitempty"`
	ExternalID   string          `json:"external_id,omitempty"`
	Kind         string          `json:"kind"`
	ErrorMessage string          `json:"error_message"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Ingestion log kinds.
const (
	IngestionLogKindInvalid       = "invalid"
	IngestionLogKindMissingLookup = "missing_lookup"
	IngestionLogKindDuplicate     = "duplicate"
)
