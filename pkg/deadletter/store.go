package deadletter

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const eventColumns = `id, tenant_id, run_id, asset_id, processor_name, processor_version,
	task_name, job_try, error_summary, error_raw, failed_at, requeued_at`

// Store provides raw-pgx persistence for DeadletterEvent rows.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func scanEvent(row pgx.Row) (Event, error) {
	var e Event
	err := row.Scan(&e.ID, &e.TenantID, &e.RunID, &e.AssetID, &e.ProcessorName, &e.ProcessorVersion,
		&e.TaskName, &e.JobTry, &e.ErrorSummary, &e.ErrorRaw, &e.FailedAt, &e.RequeuedAt)
	return e, err
}

func scanEvents(rows pgx.Rows) ([]Event, error) {
	defer rows.Close()
	var items []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning deadletter event: %w", err)
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

// CreateParams holds the fields needed to record a dead-letter event.
type CreateParams struct {
	TenantID         uuid.UUID
	RunID            uuid.UUID
	AssetID          uuid.UUID
	ProcessorName    string
	ProcessorVersion string
	TaskName         string
	JobTry           int
	ErrorRaw         string
}

// Create writes an immutable dead-letter audit record. error_summary is
// derived from error_raw via Sanitize.
func (s *Store) Create(ctx context.Context, p CreateParams) (Event, error) {
	query := `INSERT INTO deadletter_events (tenant_id, run_id, asset_id, processor_name,
			processor_version, task_name, job_try, error_summary, error_raw, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		RETURNING ` + eventColumns
	row := s.pool.QueryRow(ctx, query, p.TenantID, p.RunID, p.AssetID, p.ProcessorName,
		p.ProcessorVersion, p.TaskName, p.JobTry, Sanitize(p.ErrorRaw), p.ErrorRaw)
	e, err := scanEvent(row)
	if err != nil {
		return Event{}, fmt.Errorf("recording deadletter event: %w", err)
	}
	return e, nil
}

// LatestNonRequeuedForRun returns the most recent event for a run whose
// requeued_at is still null, or pgx.ErrNoRows if none exists.
func (s *Store) LatestNonRequeuedForRun(ctx context.Context, tenantID, runID uuid.UUID) (Event, error) {
	query := `SELECT ` + eventColumns + ` FROM deadletter_events
		WHERE tenant_id = $1 AND run_id = $2 AND requeued_at IS NULL
		ORDER BY failed_at DESC LIMIT 1`
	row := s.pool.QueryRow(ctx, query, tenantID, runID)
	return scanEvent(row)
}

// LatestNonRequeuedForAsset returns the most recent non-requeued event for
// (tenant, asset, processor) — used by requeue_latest_for_asset.
func (s *Store) LatestNonRequeuedForAsset(ctx context.Context, tenantID, assetID uuid.UUID, processor string) (Event, error) {
	query := `SELECT ` + eventColumns + ` FROM deadletter_events
		WHERE tenant_id = $1 AND asset_id = $2 AND processor_name = $3 AND requeued_at IS NULL
		ORDER BY failed_at DESC LIMIT 1`
	row := s.pool.QueryRow(ctx, query, tenantID, assetID, processor)
	return scanEvent(row)
}

// MarkRequeued stamps requeued_at on an event.
func (s *Store) MarkRequeued(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE deadletter_events SET requeued_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("marking deadletter event requeued: %w", err)
	}
	return nil
}

// ListParams controls the admin listing endpoint's filters and offset paging.
type ListParams struct {
	TenantID  uuid.UUID
	Processor string // optional filter, empty means all
	Offset    int
	Limit     int
}

// List returns a page of dead-letter events, newest first, plus the total
// matching count for offset-pagination envelopes.
func (s *Store) List(ctx context.Context, p ListParams) ([]Event, int, error) {
	where := `tenant_id = $1`
	args := []any{p.TenantID}
	if p.Processor != "" {
		args = append(args, p.Processor)
		where += fmt.Sprintf(" AND processor_name = $%d", len(args))
	}

	var total int
	countQuery := `SELECT count(*) FROM deadletter_events WHERE ` + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting deadletter events: %w", err)
	}

	args = append(args, p.Limit, p.Offset)
	query := `SELECT ` + eventColumns + ` FROM deadletter_events WHERE ` + where +
		fmt.Sprintf(" ORDER BY failed_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing deadletter events: %w", err)
	}
	items, err := scanEvents(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// RecentListKeyPrefix is the Redis key prefix the service layer pushes a
// bounded recency list under (LPUSH+LTRIM to DEADLETTER_MAX_ITEMS), for
// quick inspection without a database round trip.
const RecentListKeyPrefix = "deadletter:recent:"

// RecentListKey returns the Redis list key for a tenant's recent
// dead-letter events.
func RecentListKey(tenantID uuid.UUID) string {
	return RecentListKeyPrefix + tenantID.String()
}
