package result

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const resultColumns = `id, tenant_id, asset_id, run_id, type, confidence, data, created_at`

// Store provides raw-pgx persistence for Result rows.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func scanResult(row pgx.Row) (Result, error) {
	var r Result
	var data []byte
	err := row.Scan(&r.ID, &r.TenantID, &r.AssetID, &r.RunID, &r.Type, &r.Confidence, &data, &r.CreatedAt)
	if err != nil {
		return Result{}, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &r.Data); err != nil {
			return Result{}, fmt.Errorf("unmarshaling result data: %w", err)
		}
	}
	return r, nil
}

func scanResults(rows pgx.Rows) ([]Result, error) {
	defer rows.Close()
	var items []Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning result row: %w", err)
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

// Create persists a new Result row. Per invariant I2, callers must only
// call this for runs that are completed, or running (ocr_text_partial only).
func (s *Store) Create(ctx context.Context, tenantID, assetID, runID uuid.UUID, typ Type, confidence *float64, data map[string]any) (Result, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Result{}, fmt.Errorf("marshaling result data: %w", err)
	}
	query := `INSERT INTO results (tenant_id, asset_id, run_id, type, confidence, data)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + resultColumns
	row := s.pool.QueryRow(ctx, query, tenantID, assetID, runID, typ, confidence, raw)
	r, err := scanResult(row)
	if err != nil {
		return Result{}, fmt.Errorf("creating result: %w", err)
	}
	return r, nil
}

// ReplacePartial deletes any prior ocr_text_partial row for the run and
// inserts a fresh one — partial OCR progress overwrites rather than
// accumulates, since only the latest snapshot is meaningful mid-run.
func (s *Store) ReplacePartial(ctx context.Context, tenantID, assetID, runID uuid.UUID, data map[string]any) (Result, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("beginning partial-result transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM results WHERE run_id = $1 AND type = $2`, runID, TypeOCRTextPartial); err != nil {
		return Result{}, fmt.Errorf("clearing prior partial result: %w", err)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return Result{}, fmt.Errorf("marshaling partial result data: %w", err)
	}
	query := `INSERT INTO results (tenant_id, asset_id, run_id, type, data)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + resultColumns
	row := tx.QueryRow(ctx, query, tenantID, assetID, runID, TypeOCRTextPartial, raw)
	r, err := scanResult(row)
	if err != nil {
		return Result{}, fmt.Errorf("inserting partial result: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("committing partial-result transaction: %w", err)
	}
	return r, nil
}

// ListByRun returns every result row for a run, oldest first.
func (s *Store) ListByRun(ctx context.Context, runID uuid.UUID) ([]Result, error) {
	query := `SELECT ` + resultColumns + ` FROM results WHERE run_id = $1 ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("listing results by run: %w", err)
	}
	return scanResults(rows)
}

// LatestByAssetAndType returns the most recent result of a given type for
// an asset — used by the Signature Service to find the latest fingerprint.
func (s *Store) LatestByAssetAndType(ctx context.Context, tenantID, assetID uuid.UUID, typ Type) (Result, error) {
	query := `SELECT ` + resultColumns + ` FROM results
		WHERE tenant_id = $1 AND asset_id = $2 AND type = $3
		ORDER BY created_at DESC LIMIT 1`
	row := s.pool.QueryRow(ctx, query, tenantID, assetID, typ)
	return scanResult(row)
}

// ListByRuns returns every result row (partial ones included) for the run
// ids in runIDs, oldest first — used to assemble the intelligence-summary
// response without N+1 queries; the caller keeps the newest row per run.
func (s *Store) ListByRuns(ctx context.Context, runIDs []uuid.UUID) ([]Result, error) {
	if len(runIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + resultColumns + ` FROM results WHERE run_id = ANY($1) ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, query, runIDs)
	if err != nil {
		return nil, fmt.Errorf("listing results by runs: %w", err)
	}
	return scanResults(rows)
}
