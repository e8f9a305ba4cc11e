// Package admission implements the Admission Service: quota enforcement
// plus fingerprint-aware idempotency, the single entry point that turns a
// processor request into a queued run (spec.md §4.1).
package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/YodaheaD/assetintel/internal/apperr"
	"github.com/YodaheaD/assetintel/internal/telemetry"
	"github.com/YodaheaD/assetintel/pkg/quota"
	"github.com/YodaheaD/assetintel/pkg/run"
	"github.com/YodaheaD/assetintel/pkg/usage"
)

// TenantPlans resolves the current plan for a tenant.
type TenantPlans interface {
	PlanFor(ctx context.Context, tenantID uuid.UUID) (quota.Plan, error)
}

// SignatureDeriver computes the current content-identity signature for an asset.
type SignatureDeriver interface {
	Derive(ctx context.Context, tenantID, assetID uuid.UUID) (*string, error)
}

// Enqueuer pushes a newly created run onto the job queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, runID uuid.UUID) error
}

// ProcessorLookup reports whether a processor name/version pair is registered.
type ProcessorLookup interface {
	Lookup(name string) (version string, ok bool)
}

// Options for the enqueue operation.
type Options struct {
	Force bool
	Retry bool
}

// Service implements the Admission Service.
type Service struct {
	runs       *run.Store
	usage      *usage.Store
	plans      TenantPlans
	signatures SignatureDeriver
	processors ProcessorLookup
	queue      Enqueuer
}

// NewService creates a Service.
func NewService(runs *run.Store, usageStore *usage.Store, plans TenantPlans, signatures SignatureDeriver, processors ProcessorLookup, queue Enqueuer) *Service {
	return &Service{runs: runs, usage: usageStore, plans: plans, signatures: signatures, processors: processors, queue: queue}
}

// Enqueue implements enqueue(tenant, asset, processor, {force, retry}).
func (s *Service) Enqueue(ctx context.Context, tenantID, assetID uuid.UUID, processorName string, opts Options) (run.Run, error) {
	version, ok := s.processors.Lookup(processorName)
	if !ok {
		telemetry.AdmissionDecisionsTotal.WithLabelValues(processorName, "unknown_processor").Inc()
		return run.Run{}, apperr.New(apperr.KindUnknownProcessor, fmt.Sprintf("unknown processor: %s", processorName))
	}

	plan, err := s.plans.PlanFor(ctx, tenantID)
	if err != nil {
		return run.Run{}, fmt.Errorf("resolving tenant plan: %w", err)
	}
	limits := quota.LimitsFor(plan)

	current, err := s.usage.Get(ctx, tenantID, usage.CurrentPeriod(time.Now()))
	if err != nil {
		return run.Run{}, fmt.Errorf("checking current usage: %w", err)
	}
	if current.IntelligenceRuns >= limits.MaxRuns {
		telemetry.AdmissionDecisionsTotal.WithLabelValues(processorName, "quota_runs_exceeded").Inc()
		return run.Run{}, apperr.New(apperr.KindQuotaRunsExceeded, "monthly run quota exceeded")
	}
	if current.EstimatedCostCents >= limits.MaxCostCents {
		telemetry.AdmissionDecisionsTotal.WithLabelValues(processorName, "quota_cost_exceeded").Inc()
		return run.Run{}, apperr.New(apperr.KindQuotaCostExceeded, "monthly cost quota exceeded")
	}

	var currentSig *string
	if processorName != "asset-fingerprint" {
		currentSig, err = s.signatures.Derive(ctx, tenantID, assetID)
		if err != nil {
			return run.Run{}, fmt.Errorf("deriving content signature: %w", err)
		}
	}

	latest, err := s.runs.GetLatest(ctx, tenantID, assetID, processorName, version)
	hasLatest := true
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			hasLatest = false
		} else {
			return run.Run{}, fmt.Errorf("looking up latest run: %w", err)
		}
	}

	if hasLatest && !opts.Force {
		if reuse(latest, opts, currentSig) {
			telemetry.AdmissionDecisionsTotal.WithLabelValues(processorName, "reuse").Inc()
			return latest, nil
		}
	}

	telemetry.AdmissionDecisionsTotal.WithLabelValues(processorName, "create").Inc()
	price := quota.PriceFor(processorName)
	created, err := s.runs.Create(ctx, run.CreateParams{
		TenantID:                  tenantID,
		AssetID:                   assetID,
		ProcessorName:             processorName,
		ProcessorVersion:          version,
		InputFingerprintSignature: currentSig,
		EstimatedCostCents:        price,
	})
	if err != nil {
		return run.Run{}, fmt.Errorf("creating run: %w", err)
	}

	if err := s.queue.Enqueue(ctx, created.ID); err != nil {
		return run.Run{}, fmt.Errorf("enqueuing run: %w", err)
	}
	return created, nil
}

// reuse implements spec.md §4.1's reuse-policy table for the case where a
// latest run L exists and force was not requested.
func reuse(latest run.Run, opts Options, currentSig *string) bool {
	switch latest.Status {
	case run.StatusPending, run.StatusRunning, run.StatusCompleted:
		return sigCompatible(currentSig, latest.InputFingerprintSignature)
	case run.StatusFailed:
		return !opts.Retry
	default:
		return false
	}
}

// sigCompatible reports a match-or-unknown comparison: reuse is permitted
// when either signature is unknown (nil), or both are known and equal.
func sigCompatible(a, b *string) bool {
	if a == nil || b == nil {
		return true
	}
	return *a == *b
}
