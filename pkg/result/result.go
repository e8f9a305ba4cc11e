// Package result owns the Result entity: the structured output(s) of a
// completed (or, for partial OCR, still-running) run.
package result

import (
	"time"

	"github.com/google/uuid"
)

// Type enumerates the result shapes a processor can emit.
type Type string

const (
	TypeFingerprint     Type = "fingerprint"
	TypeImageMetadata   Type = "image_metadata"
	TypeOCRText         Type = "ocr_text"
	TypeOCRTextPartial  Type = "ocr_text_partial"
)

// Result is one output row produced by a run.
type Result struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	AssetID    uuid.UUID
	RunID      uuid.UUID
	Type       Type
	Confidence *float64
	Data       map[string]any
	CreatedAt  time.Time
}

// Response is the JSON shape returned alongside run status.
type Response struct {
	ID         uuid.UUID      `json:"id"`
	RunID      uuid.UUID      `json:"run_id"`
	Type       string         `json:"type"`
	Confidence *float64       `json:"confidence,omitempty"`
	Data       map[string]any `json:"data"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ToResponse converts a Result to its public JSON shape.
func (r *Result) ToResponse() Response {
	return Response{
		ID:         r.ID,
		RunID:      r.RunID,
		Type:       string(r.Type),
		Confidence: r.Confidence,
		Data:       r.Data,
		CreatedAt:  r.CreatedAt,
	}
}

// FingerprintData is the structured Data payload for a fingerprint result.
type FingerprintData struct {
	SHA256        *string `json:"sha256,omitempty"`
	ETag          *string `json:"etag,omitempty"`
	ContentType   *string `json:"content_type,omitempty"`
	ContentLength *int64  `json:"content_length,omitempty"`
	LastModified  *string `json:"last_modified,omitempty"`
	Signature     string  `json:"signature"`
}

// ImageMetadataData is the structured Data payload for an image-metadata result.
type ImageMetadataData struct {
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// OCRTextData is the structured Data payload for ocr_text / ocr_text_partial results.
type OCRTextData struct {
	Text        string `json:"text"`
	PageCount   int    `json:"page_count"`
	PagesDone   int    `json:"pages_done"`
	Truncated   bool   `json:"truncated"`
}
