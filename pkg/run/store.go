package run

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const runColumns = `id, tenant_id, asset_id, processor_name, processor_version, status,
	error_message, created_at, completed_at, cancel_requested, canceled_at,
	input_fingerprint_signature, progress_current, progress_total, progress_message,
	estimated_cost_cents, retry_count, last_retry_at`

// Store provides raw-pgx CRUD and lifecycle-transition operations over the
// runs table. Grounded on the teacher's pkg/incident/store.go pattern: a
// column-list const, scan helpers, and one method per state transition.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func scanRun(row pgx.Row) (Run, error) {
	var r Run
	err := row.Scan(
		&r.ID, &r.TenantID, &r.AssetID, &r.ProcessorName, &r.ProcessorVersion, &r.Status,
		&r.ErrorMessage, &r.CreatedAt, &r.CompletedAt, &r.CancelRequested, &r.CanceledAt,
		&r.InputFingerprintSignature, &r.ProgressCurrent, &r.ProgressTotal, &r.ProgressMessage,
		&r.EstimatedCostCents, &r.RetryCount, &r.LastRetryAt,
	)
	return r, err
}

func scanRuns(rows pgx.Rows) ([]Run, error) {
	defer rows.Close()
	var items []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

// CreateParams holds the fields needed to persist a new pending Run.
type CreateParams struct {
	TenantID                  uuid.UUID
	AssetID                   uuid.UUID
	ProcessorName             string
	ProcessorVersion          string
	InputFingerprintSignature *string
	EstimatedCostCents        int
}

// Create inserts a new run in status=pending.
func (s *Store) Create(ctx context.Context, p CreateParams) (Run, error) {
	query := `INSERT INTO runs (tenant_id, asset_id, processor_name, processor_version, status,
			input_fingerprint_signature, estimated_cost_cents)
		VALUES ($1, $2, $3, $4, 'pending', $5, $6)
		RETURNING ` + runColumns

	row := s.pool.QueryRow(ctx, query, p.TenantID, p.AssetID, p.ProcessorName, p.ProcessorVersion,
		p.InputFingerprintSignature, p.EstimatedCostCents)
	r, err := scanRun(row)
	if err != nil {
		return Run{}, fmt.Errorf("creating run: %w", err)
	}
	return r, nil
}

// Get fetches a run by id, scoped to tenant. Returns pgx.ErrNoRows if absent.
func (s *Store) Get(ctx context.Context, tenantID, id uuid.UUID) (Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1 AND tenant_id = $2`
	row := s.pool.QueryRow(ctx, query, id, tenantID)
	return scanRun(row)
}

// GetAny fetches a run by id regardless of tenant — used only by the
// dispatcher/worker, which operates on a run_id already popped from the
// queue and must never filter by a tenant it doesn't yet know.
func (s *Store) GetAny(ctx context.Context, id uuid.UUID) (Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`
	row := s.pool.QueryRow(ctx, query, id)
	return scanRun(row)
}

// GetLatest returns the most recent run for (tenant, asset, processor, version),
// ordered by created_at desc, or pgx.ErrNoRows if none exists.
func (s *Store) GetLatest(ctx context.Context, tenantID, assetID uuid.UUID, processor, version string) (Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs
		WHERE tenant_id = $1 AND asset_id = $2 AND processor_name = $3 AND processor_version = $4
		ORDER BY created_at DESC LIMIT 1`
	row := s.pool.QueryRow(ctx, query, tenantID, assetID, processor, version)
	return scanRun(row)
}

// GetLatestNonTerminal returns the most recent non-terminal run for
// (tenant, asset, processor) across versions — used by the Cancellation
// Service, which addresses runs by processor name only.
func (s *Store) GetLatestNonTerminal(ctx context.Context, tenantID, assetID uuid.UUID, processor string) (Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs
		WHERE tenant_id = $1 AND asset_id = $2 AND processor_name = $3
		AND status IN ('pending', 'running')
		ORDER BY created_at DESC LIMIT 1`
	row := s.pool.QueryRow(ctx, query, tenantID, assetID, processor)
	return scanRun(row)
}

// ListByAsset returns all runs for an asset, newest first.
func (s *Store) ListByAsset(ctx context.Context, tenantID, assetID uuid.UUID) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE tenant_id = $1 AND asset_id = $2 ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, query, tenantID, assetID)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return scanRuns(rows)
}

// LatestPerProcessor returns, for each processor name that has ever run
// against the asset, its single most recent run — used by the intelligence
// summary endpoint.
func (s *Store) LatestPerProcessor(ctx context.Context, tenantID, assetID uuid.UUID) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM (
			SELECT *, row_number() OVER (PARTITION BY processor_name ORDER BY created_at DESC) AS rn
			FROM runs WHERE tenant_id = $1 AND asset_id = $2
		) ranked WHERE rn = 1 ORDER BY processor_name`
	rows, err := s.pool.Query(ctx, query, tenantID, assetID)
	if err != nil {
		return nil, fmt.Errorf("listing latest runs per processor: %w", err)
	}
	return scanRuns(rows)
}

// MarkRunning atomically transitions pending→running, clearing any prior
// error and resetting progress fields (spec.md §4.3 step 2).
func (s *Store) MarkRunning(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE runs SET status = 'running', error_message = NULL,
		progress_current = 0, progress_total = 0, progress_message = NULL
		WHERE id = $1 AND status = 'pending'`
	_, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("marking run running: %w", err)
	}
	return nil
}

// UpdateProgress writes an incremental progress checkpoint.
func (s *Store) UpdateProgress(ctx context.Context, id uuid.UUID, current, total int, message string) error {
	query := `UPDATE runs SET progress_current = $2, progress_total = $3, progress_message = $4 WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, id, current, total, message)
	if err != nil {
		return fmt.Errorf("updating run progress: %w", err)
	}
	return nil
}

// MarkCompleted transitions a run to its terminal completed state.
func (s *Store) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE runs SET status = 'completed', completed_at = now() WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("marking run completed: %w", err)
	}
	return nil
}

// MarkFailed transitions a run to its terminal failed state with a message.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	query := `UPDATE runs SET status = 'failed', error_message = $2, completed_at = now() WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, id, message)
	if err != nil {
		return fmt.Errorf("marking run failed: %w", err)
	}
	return nil
}

// MarkCanceled transitions a run to its terminal canceled state
// (Cancellation Service's mark_canceled operation, spec.md §4.4).
func (s *Store) MarkCanceled(ctx context.Context, id uuid.UUID, progressMessage string) error {
	query := `UPDATE runs SET status = 'canceled', canceled_at = now(), completed_at = now(),
		progress_message = $2 WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, id, progressMessage)
	if err != nil {
		return fmt.Errorf("marking run canceled: %w", err)
	}
	return nil
}

// SetCancelRequested idempotently sets cancel_requested=true on a
// non-terminal run. No-ops on terminal runs.
func (s *Store) SetCancelRequested(ctx context.Context, id uuid.UUID) (alreadyRequested bool, err error) {
	query := `UPDATE runs SET cancel_requested = true
		WHERE id = $1 AND status IN ('pending', 'running') AND cancel_requested = false`
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("requesting cancellation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either already requested, or the run is terminal (idempotent no-op either way).
		return true, nil
	}
	return false, nil
}

// BulkSetCancelRequested sets cancel_requested=true on every non-terminal
// run matching (tenant, asset, processor), excluding excludeID. Used by the
// cascade from asset-fingerprint to ocr-text (spec.md §4.4/§5: "a single
// UPDATE ... WHERE id IN (...)").
func (s *Store) BulkSetCancelRequested(ctx context.Context, tenantID, assetID uuid.UUID, processor string, excludeID uuid.UUID) (int, error) {
	query := `UPDATE runs SET cancel_requested = true
		WHERE tenant_id = $1 AND asset_id = $2 AND processor_name = $3
		AND status IN ('pending', 'running') AND id <> $4`
	tag, err := s.pool.Exec(ctx, query, tenantID, assetID, processor, excludeID)
	if err != nil {
		return 0, fmt.Errorf("cascading cancellation: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// SetInputFingerprintSignature stamps a run's own signature once its
// fingerprint handler has computed it (spec.md §4.3).
func (s *Store) SetInputFingerprintSignature(ctx context.Context, id uuid.UUID, sig string) error {
	query := `UPDATE runs SET input_fingerprint_signature = $2 WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, id, sig)
	if err != nil {
		return fmt.Errorf("stamping input fingerprint signature: %w", err)
	}
	return nil
}

// IncrementRetry bumps retry_count and stamps last_retry_at; called by the
// Retry Service before re-raising a job to the queue.
func (s *Store) IncrementRetry(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE runs SET retry_count = retry_count + 1, last_retry_at = now() WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("incrementing retry count: %w", err)
	}
	return nil
}

// ResetToPending requeues a dead-lettered run: clears error/progress/cancel
// fields and resets status to pending, preserving the monotonic retry_count
// (spec.md §4.5's requeue operation).
func (s *Store) ResetToPending(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE runs SET status = 'pending', error_message = NULL, completed_at = NULL,
		progress_current = 0, progress_total = 0, progress_message = NULL,
		cancel_requested = false, canceled_at = NULL
		WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("resetting run to pending: %w", err)
	}
	return nil
}

// CountCompletedInPeriod counts completed runs for a tenant within a
// "YYYY-MM" calendar-month period — used as a fallback quota check; the
// primary counter lives in OrgUsage (pkg/usage), this exists for reconciliation.
func (s *Store) CountCompletedInPeriod(ctx context.Context, tenantID uuid.UUID, periodStart, periodEnd time.Time) (int, error) {
	query := `SELECT count(*) FROM runs WHERE tenant_id = $1 AND status = 'completed'
		AND completed_at >= $2 AND completed_at < $3`
	var n int
	if err := s.pool.QueryRow(ctx, query, tenantID, periodStart, periodEnd).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting completed runs: %w", err)
	}
	return n, nil
}
