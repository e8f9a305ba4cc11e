package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"github.com/YodaheaD/assetintel/pkg/run"
)

// ErrNoPendingEvent is returned by RequeueLatestForAsset when no
// non-requeued dead-letter event exists for the given (asset, processor) —
// the handler maps this to 404.
var ErrNoPendingEvent = errors.New("deadletter: no pending event for asset/processor")

// Enqueuer is the subset of the queue adapter the Service needs to
// re-raise a requeued run. Declared here (rather than importing pkg/queue)
// to avoid a dependency cycle — pkg/queue's consumer is what calls into
// this Service in the first place.
type Enqueuer interface {
	Enqueue(ctx context.Context, runID uuid.UUID) error
}

// Config holds the retry/auto-retry tunables (spec.md §4.5/§6 env vars).
type Config struct {
	MaxTries                  int
	MinRetryDelaySeconds      int
	MaxOCRRetriesPerSignature int
	DeadletterMaxItems        int
}

// Service implements the Retry & Dead-letter Service: failure classification,
// retry-vs-deadletter decisions, requeue, and OCR auto-retry eligibility.
type Service struct {
	store  *Store
	runs   *run.Store
	rdb    *redis.Client
	queue  Enqueuer
	config Config
}

// NewService creates a Service.
func NewService(store *Store, runs *run.Store, rdb *redis.Client, queue Enqueuer, cfg Config) *Service {
	return &Service{store: store, runs: runs, rdb: rdb, queue: queue, config: cfg}
}

// HandleFailure is invoked by the worker once job_try has reached MaxTries:
// it rewrites the run's failure message to the dead-letter form and records
// the immutable audit event. The caller (pkg/worker) is responsible for the
// jobTry < MaxTries branch, which re-raises to the queue instead of calling
// this method at all.
func (s *Service) HandleFailure(ctx context.Context, r run.Run, taskName string, jobTry int, errRaw error) error {
	message := fmt.Sprintf("Dead-lettered after repeated failures: %s", errRaw.Error())
	if err := s.runs.MarkFailed(ctx, r.ID, message); err != nil {
		return fmt.Errorf("marking run dead-lettered: %w", err)
	}
	if err := s.runs.UpdateProgress(ctx, r.ID, r.ProgressCurrent, r.ProgressTotal, "dead-lettered"); err != nil {
		return fmt.Errorf("stamping dead-letter progress message: %w", err)
	}

	event, err := s.store.Create(ctx, CreateParams{
		TenantID:         r.TenantID,
		RunID:            r.ID,
		AssetID:          r.AssetID,
		ProcessorName:    r.ProcessorName,
		ProcessorVersion: r.ProcessorVersion,
		TaskName:         taskName,
		JobTry:           jobTry,
		ErrorRaw:         errRaw.Error(),
	})
	if err != nil {
		return fmt.Errorf("recording dead-letter event: %w", err)
	}

	if s.rdb != nil && s.config.DeadletterMaxItems > 0 {
		s.pushRecent(ctx, r.TenantID, event)
	}
	return nil
}

func (s *Service) pushRecent(ctx context.Context, tenantID uuid.UUID, event Event) {
	payload, err := json.Marshal(event.ToResponse())
	if err != nil {
		return
	}
	key := RecentListKey(tenantID)
	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, int64(s.config.DeadletterMaxItems-1))
	pipe.Exec(ctx)
}

// Requeue resets a dead-lettered run to pending, clears its job_try counter
// when the queue supports it, and re-enqueues it, stamping the originating
// event's requeued_at.
func (s *Service) Requeue(ctx context.Context, tenantID, runID uuid.UUID) error {
	r, err := s.runs.Get(ctx, tenantID, runID)
	if err != nil {
		return fmt.Errorf("looking up run to requeue: %w", err)
	}

	event, err := s.store.LatestNonRequeuedForRun(ctx, tenantID, runID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("looking up dead-letter event: %w", err)
	}
	if err == nil {
		if err := s.store.MarkRequeued(ctx, event.ID); err != nil {
			return err
		}
	}

	if err := s.runs.IncrementRetry(ctx, r.ID); err != nil {
		return fmt.Errorf("incrementing retry count: %w", err)
	}
	if err := s.runs.ResetToPending(ctx, r.ID); err != nil {
		return fmt.Errorf("resetting run to pending: %w", err)
	}
	if rt, ok := s.queue.(interface {
		ResetTry(ctx context.Context, runID uuid.UUID) error
	}); ok {
		if err := rt.ResetTry(ctx, r.ID); err != nil {
			return fmt.Errorf("resetting job_try: %w", err)
		}
	}
	if err := s.queue.Enqueue(ctx, r.ID); err != nil {
		return fmt.Errorf("enqueuing requeued run: %w", err)
	}
	return nil
}

// RequeueLatestForAsset finds the newest non-requeued event for
// (tenant, asset, processor) and requeues it.
func (s *Service) RequeueLatestForAsset(ctx context.Context, tenantID, assetID uuid.UUID, processor string) error {
	event, err := s.store.LatestNonRequeuedForAsset(ctx, tenantID, assetID, processor)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: asset %s processor %s", ErrNoPendingEvent, assetID, processor)
		}
		return fmt.Errorf("looking up dead-letter event: %w", err)
	}
	return s.Requeue(ctx, tenantID, event.RunID)
}

// List returns a page of dead-letter events for the admin listing endpoint.
func (s *Service) List(ctx context.Context, p ListParams) ([]Event, int, error) {
	return s.store.List(ctx, p)
}

// AutoRetryDecision is the structured result of EvaluateOCRAutoRetry.
type AutoRetryDecision struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
}

// EvaluateOCRAutoRetry implements spec.md §4.5's OCR auto-retry eligibility
// check, used by the indexing workflow when a search lookup finds no OCR
// index for an asset that has a failed ocr-text run.
func (s *Service) EvaluateOCRAutoRetry(ctx context.Context, tenantID, assetID uuid.UUID, currentSig *string) (AutoRetryDecision, error) {
	latest, err := s.runs.GetLatest(ctx, tenantID, assetID, "ocr-text", "v1")
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AutoRetryDecision{Eligible: false, Reason: "no ocr-text run exists"}, nil
		}
		return AutoRetryDecision{}, fmt.Errorf("looking up latest ocr-text run: %w", err)
	}

	if latest.Status != run.StatusFailed {
		return AutoRetryDecision{Eligible: false, Reason: "latest ocr-text run is not in failed status"}, nil
	}

	event, err := s.store.LatestNonRequeuedForRun(ctx, tenantID, latest.ID)
	if err == nil {
		category := Classify(event.ErrorRaw)
		if category == CategoryDependencyMissing || category == CategoryPDFDependencyMissing {
			return AutoRetryDecision{Eligible: false, Reason: fmt.Sprintf("failure category %q is not auto-retryable", category)}, nil
		}
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return AutoRetryDecision{}, fmt.Errorf("looking up dead-letter event for classification: %w", err)
	}

	if !signaturesCompatible(currentSig, latest.InputFingerprintSignature) {
		return AutoRetryDecision{Eligible: false, Reason: "content signature changed since the failed run"}, nil
	}

	if latest.LastRetryAt != nil {
		elapsed := time.Since(*latest.LastRetryAt)
		minDelay := time.Duration(s.config.MinRetryDelaySeconds) * time.Second
		if elapsed < minDelay {
			return AutoRetryDecision{Eligible: false, Reason: fmt.Sprintf("must wait %s since last retry", (minDelay - elapsed).Round(time.Second))}, nil
		}
	}

	if latest.RetryCount >= s.config.MaxOCRRetriesPerSignature {
		return AutoRetryDecision{Eligible: false, Reason: "exceeded max auto-retries for this content signature"}, nil
	}

	return AutoRetryDecision{Eligible: true}, nil
}

// signaturesCompatible reports whether two fingerprint signatures are
// equal, treating either side being null as compatible (spec.md §4.5:
// "current_sig == failed_run.sig (or either is null)").
func signaturesCompatible(a, b *string) bool {
	if a == nil || b == nil {
		return true
	}
	return *a == *b
}
