// Package run owns the Run entity: the authoritative lifecycle record for one
// execution attempt of a processor on an asset (SPEC_FULL.md §3).
package run

import (
	"time"

	"github.com/google/uuid"
)

// Status is one of the run's exhaustive status set.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Terminal reports whether s is one of the terminal statuses.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// Run is one execution attempt of a processor on an asset for a tenant.
type Run struct {
	ID                        uuid.UUID
	TenantID                  uuid.UUID
	AssetID                   uuid.UUID
	ProcessorName             string
	ProcessorVersion          string
	Status                    Status
	ErrorMessage              *string
	CreatedAt                 time.Time
	CompletedAt               *time.Time
	CancelRequested           bool
	CanceledAt                *time.Time
	InputFingerprintSignature *string
	ProgressCurrent           int
	ProgressTotal             int
	ProgressMessage           *string
	EstimatedCostCents        int
	RetryCount                int
	LastRetryAt               *time.Time
}

// Response is the JSON shape returned by the run-status endpoint
// (GET /intelligence/runs/{run_id}), including progress, cancel, and partial
// result fields per spec.md §6/§7.
type Response struct {
	ID                 uuid.UUID  `json:"id"`
	AssetID            uuid.UUID  `json:"asset_id"`
	ProcessorName      string     `json:"processor_name"`
	ProcessorVersion   string     `json:"processor_version"`
	Status             string     `json:"status"`
	ErrorMessage       *string    `json:"error_message,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	Progress           Progress   `json:"progress"`
	Cancel             Cancel     `json:"cancel"`
	EstimatedCostCents int        `json:"estimated_cost_cents"`
	RetryCount         int        `json:"retry_count"`
}

// Progress mirrors the run's progress_* columns.
type Progress struct {
	Current int     `json:"current"`
	Total   int     `json:"total"`
	Message *string `json:"message,omitempty"`
}

// Cancel mirrors the run's cancellation columns.
type Cancel struct {
	Requested  bool       `json:"requested"`
	CanceledAt *time.Time `json:"canceled_at,omitempty"`
}

// ToResponse converts a Run to its public JSON shape.
func (r *Run) ToResponse() Response {
	return Response{
		ID:               r.ID,
		AssetID:          r.AssetID,
		ProcessorName:    r.ProcessorName,
		ProcessorVersion: r.ProcessorVersion,
		Status:           string(r.Status),
		ErrorMessage:     r.ErrorMessage,
		CreatedAt:        r.CreatedAt,
		CompletedAt:      r.CompletedAt,
		Progress: Progress{
			Current: r.ProgressCurrent,
			Total:   r.ProgressTotal,
			Message: r.ProgressMessage,
		},
		Cancel: Cancel{
			Requested:  r.CancelRequested,
			CanceledAt: r.CanceledAt,
		},
		EstimatedCostCents: r.EstimatedCostCents,
		RetryCount:         r.RetryCount,
	}
}
