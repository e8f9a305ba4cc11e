// Package cancellation implements the Cancellation Service: it sets and
// observes a cooperative cancel flag, cascading from fingerprint runs to
// dependent OCR runs on the same asset (spec.md §4.4).
package cancellation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/YodaheaD/assetintel/pkg/run"
)

const (
	processorFingerprint = "asset-fingerprint"
	processorOCR         = "ocr-text"
)

// normalizeProcessor maps the aliases spec.md §4.4 names
// (ocr|ocr_text→ocr-text, fingerprint→asset-fingerprint) to their
// canonical registry name.
func normalizeProcessor(name string) string {
	switch name {
	case "ocr", "ocr_text":
		return processorOCR
	case "fingerprint":
		return processorFingerprint
	default:
		return name
	}
}

// ErrNoActiveRun is returned by RequestLatestForAsset when no non-terminal
// run exists for the given (asset, processor) — the handler maps this to 404.
var ErrNoActiveRun = errors.New("cancellation: no non-terminal run for asset/processor")

// Result reports whether a cancellation request was newly made or was
// already in effect (idempotent repeat call).
type Result struct {
	RunID            uuid.UUID
	AlreadyRequested bool
}

// Service implements the Cancellation Service.
type Service struct {
	runs *run.Store
}

// NewService creates a Service.
func NewService(runs *run.Store) *Service {
	return &Service{runs: runs}
}

// Request sets cancel_requested=true on a non-terminal run; no-ops
// idempotently on a terminal run.
func (s *Service) Request(ctx context.Context, runID uuid.UUID) (Result, error) {
	alreadyRequested, err := s.runs.SetCancelRequested(ctx, runID)
	if err != nil {
		return Result{}, fmt.Errorf("requesting cancellation: %w", err)
	}
	return Result{RunID: runID, AlreadyRequested: alreadyRequested}, nil
}

// RequestLatestForAsset finds the newest non-terminal run matching
// (tenant, asset, processor) and requests its cancellation. When cascade is
// true and the normalized processor is asset-fingerprint, it also requests
// cancellation on any non-terminal ocr-text runs for the same asset.
func (s *Service) RequestLatestForAsset(ctx context.Context, tenantID, assetID uuid.UUID, processor string, cascade bool) (Result, error) {
	name := normalizeProcessor(processor)

	latest, err := s.runs.GetLatestNonTerminal(ctx, tenantID, assetID, name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Result{}, fmt.Errorf("%w: asset %s processor %s", ErrNoActiveRun, assetID, name)
		}
		return Result{}, fmt.Errorf("looking up latest non-terminal run: %w", err)
	}

	result, err := s.Request(ctx, latest.ID)
	if err != nil {
		return Result{}, err
	}

	if cascade && name == processorFingerprint {
		if _, err := s.runs.BulkSetCancelRequested(ctx, tenantID, assetID, processorOCR, latest.ID); err != nil {
			return Result{}, fmt.Errorf("cascading cancellation to ocr-text runs: %w", err)
		}
	}

	return result, nil
}

// MarkCanceled is invoked by handlers at a checkpoint once they observe
// cancel_requested: sets status=canceled, canceled_at=now, completed_at=now.
func (s *Service) MarkCanceled(ctx context.Context, runID uuid.UUID, progressMessage string) error {
	if err := s.runs.MarkCanceled(ctx, runID, progressMessage); err != nil {
		return fmt.Errorf("marking run canceled: %w", err)
	}
	return nil
}
