package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Field names promoted to dedicated columns in the products table.
const (
	FieldSalesRankCurrent = "sales_rank_current"
	FieldBuyBoxCurrent    = "buy_box_current"
	FieldRating           = "reviews_rating"
	FieldReviewCount      = "reviews_count"
)

// ProductRecord is a validated product snapshot row ready for persistence.
type ProductRecord struct {
	ID           uuid.UUID           `json:"id"`
	ASIN         string              `json:"asin"`
	Locale       Locale              `json:"locale"`
	Title        string              `json:"title"`
	Brand        *string             `json:"brand,omitempty"`
	CategoryID   int64               `json:"category_id"`
	CategoryName string              `json:"category_name"`
	ListedSince  *time.Time          `json:"listed_since,omitempty"`
	Metrics      map[string]*float64 `json:"metrics"`
	Attributes   map[string]string   `json:"attributes"`
	Source       string              `json:"source"`
	ImportedAt   time.Time           `json:"imported_at"`
}

// NewProductRecord creates an empty record for the given business key.
func NewProductRecord(asin string, locale Locale) ProductRecord {
	return ProductRecord{
		ID:         uuid.New(),
		ASIN:       asin,
		Locale:     locale,
		Metrics:    make(map[string]*float64),
		Attributes: make(map[string]string),
		ImportedAt: time.Now().UTC(),
	}
}

// DedupKey returns the business key that must be unique within one ingestion batch.
func (p ProductRecord) DedupKey() string {
	return DedupKey(p.ASIN, p.Locale)
}

// DedupKey builds the batch key for an external identifier and storefront.
func DedupKey(externalID string, locale Locale) string {
	return externalID + "|" + string(locale)
}

// Metric returns the metric value, or nil when absent or null.
func (p ProductRecord) Metric(field string) *float64 {
	if p.Metrics == nil {
		return nil
	}
	return p.Metrics[field]
}

// MetricsJSON serialises the metric map for JSONB storage.
func (p ProductRecord) MetricsJSON() ([]byte, error) {
	if p.Metrics == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p.Metrics)
}

// AttributesJSON serialises free-form text attributes for JSONB storage.
func (p ProductRecord) AttributesJSON() ([]byte, error) {
	if p.Attributes == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p.Attributes)
}

// Category is a marketplace category with one display name per storefront.
type Category struct {
	ID    int64             `json:"id"`
	Names map[Locale]string `json:"names"`
}
