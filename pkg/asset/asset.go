// Package asset is the minimal Asset Service blackbox collaborator:
// spec.md places asset CRUD out of the core's scope, so this stays a thin
// Postgres-backed store (grounded on the teacher's simplest CRUD package).
package asset

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Asset is a registered digital asset referenced by URI.
type Asset struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"-"`
	URI       string    `json:"uri"`
	CreatedAt time.Time `json:"created_at"`
}

// Store provides raw-pgx CRUD for the assets table.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func scanAsset(row pgx.Row) (Asset, error) {
	var a Asset
	err := row.Scan(&a.ID, &a.TenantID, &a.URI, &a.CreatedAt)
	return a, err
}

// Create registers a new asset for a tenant.
func (s *Store) Create(ctx context.Context, tenantID uuid.UUID, uri string) (Asset, error) {
	query := `INSERT INTO assets (tenant_id, uri) VALUES ($1, $2)
		RETURNING id, tenant_id, uri, created_at`
	row := s.pool.QueryRow(ctx, query, tenantID, uri)
	a, err := scanAsset(row)
	if err != nil {
		return Asset{}, fmt.Errorf("creating asset: %w", err)
	}
	return a, nil
}

// Get fetches an asset by id, scoped to tenant.
func (s *Store) Get(ctx context.Context, tenantID, id uuid.UUID) (Asset, error) {
	query := `SELECT id, tenant_id, uri, created_at FROM assets WHERE id = $1 AND tenant_id = $2`
	row := s.pool.QueryRow(ctx, query, id, tenantID)
	return scanAsset(row)
}
