// Package searchindex owns the SearchIndex entity and the search/duplicate
// lookups it powers (SPEC_FULL.md §4.6).
package searchindex

import (
	"time"

	"github.com/google/uuid"
)

// Entry mirrors one SearchIndex row.
type Entry struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	AssetID         uuid.UUID
	SHA256          *string
	ETag            *string
	ContentType     *string
	ContentLength   *int64
	LastModified    *string
	OCRTextPreview  *string
	HasOCRIndex     bool
	UpdatedAt       time.Time
}

// SearchHit is one row of a search_assets result, carrying the computed
// text-rank score alongside the indexed fields.
type SearchHit struct {
	Entry
	Rank float64
}
