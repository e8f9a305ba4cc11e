// Package deadletter classifies terminal run failures, records audit
// events, and implements the requeue workflow (SPEC_FULL.md §4.5).
package deadletter

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const errorSummaryMaxLen = 200

// Category is a stable, UI-visible OCR failure classification.
type Category string

const (
	CategoryDependencyMissing      Category = "dependency_missing"
	CategoryPDFDependencyMissing   Category = "pdf_dependency_missing"
	CategoryPDFRasterizeFailed     Category = "pdf_rasterize_failed"
	CategoryUnsupportedContentType Category = "unsupported_content_type"
	CategoryNotImage               Category = "not_image"
	CategoryNetworkError           Category = "network_error"
	CategoryHTTPError              Category = "http_error"
	CategoryUnknown                Category = "unknown"
)

// Event is an immutable (except requeued_at) audit record for a terminal
// run failure.
type Event struct {
	ID               uuid.UUID
	TenantID         uuid.UUID
	RunID            uuid.UUID
	AssetID          uuid.UUID
	ProcessorName    string
	ProcessorVersion string
	TaskName         string
	JobTry           int
	ErrorSummary     string
	ErrorRaw         string
	FailedAt         time.Time
	RequeuedAt       *time.Time
}

// Response is the admin-facing JSON shape; error_raw is never exposed.
type Response struct {
	ID               uuid.UUID  `json:"id"`
	RunID            uuid.UUID  `json:"run_id"`
	AssetID          uuid.UUID  `json:"asset_id"`
	ProcessorName    string     `json:"processor_name"`
	ProcessorVersion string     `json:"processor_version"`
	TaskName         string     `json:"task_name"`
	JobTry           int        `json:"job_try"`
	ErrorSummary     string     `json:"error_summary"`
	FailedAt         time.Time  `json:"failed_at"`
	RequeuedAt       *time.Time `json:"requeued_at,omitempty"`
}

// ToResponse converts an Event to its public JSON shape, omitting error_raw.
func (e *Event) ToResponse() Response {
	return Response{
		ID:               e.ID,
		RunID:            e.RunID,
		AssetID:          e.AssetID,
		ProcessorName:    e.ProcessorName,
		ProcessorVersion: e.ProcessorVersion,
		TaskName:         e.TaskName,
		JobTry:           e.JobTry,
		ErrorSummary:     e.ErrorSummary,
		FailedAt:         e.FailedAt,
		RequeuedAt:       e.RequeuedAt,
	}
}

// Sanitize strips newlines and truncates raw error text to the 200-char
// error_summary bound (spec.md §3's DeadletterEvent.error_summary field).
func Sanitize(raw string) string {
	s := strings.ReplaceAll(raw, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > errorSummaryMaxLen {
		s = s[:errorSummaryMaxLen]
	}
	return s
}

// classifyPatterns maps lowercase substrings to their OCR failure category,
// checked in order — first match wins. Grounded on the original's
// keyword-based classifier (original_source/); stable strings chosen so
// the category set never grows without a corresponding spec update.
var classifyPatterns = []struct {
	substr   string
	category Category
}{
	{"poppler", CategoryPDFDependencyMissing},
	{"pdftoppm", CategoryPDFDependencyMissing},
	{"pdf2image", CategoryPDFDependencyMissing},
	{"tesseract", CategoryDependencyMissing},
	{"dependency_missing", CategoryDependencyMissing},
	{"rasteriz", CategoryPDFRasterizeFailed},
	{"unsupported content type", CategoryUnsupportedContentType},
	{"unsupported_content_type", CategoryUnsupportedContentType},
	{"not an image", CategoryNotImage},
	{"cannot identify image", CategoryNotImage},
	{"timeout", CategoryNetworkError},
	{"connection refused", CategoryNetworkError},
	{"no such host", CategoryNetworkError},
	{"dial tcp", CategoryNetworkError},
	{"http status", CategoryHTTPError},
	{"404", CategoryHTTPError},
	{"403", CategoryHTTPError},
	{"500", CategoryHTTPError},
}

// Classify maps a raw OCR failure message to a stable category by substring
// match, falling back to CategoryUnknown.
func Classify(errMessage string) Category {
	lower := strings.ToLower(errMessage)
	for _, p := range classifyPatterns {
		if strings.Contains(lower, p.substr) {
			return p.category
		}
	}
	return CategoryUnknown
}
