package identity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const keyColumns = `id, tenant_id, key_hash, key_prefix, description, role, created_at`

// Store provides database operations for API keys, grounded on the teacher's
// pkg/apikey/store.go raw-pgx pattern.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given global connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func scanKeyRow(row pgx.Row) (keyRow, error) {
	var r keyRow
	err := row.Scan(&r.ID, &r.TenantID, &r.KeyHash, &r.KeyPrefix, &r.Description, &r.Role, &r.CreatedAt)
	return r, err
}

// GetByHash looks up an API key by its SHA-256 hash. Returns pgx.ErrNoRows if absent.
func (s *Store) GetByHash(ctx context.Context, hash string) (keyRow, error) {
	query := `SELECT ` + keyColumns + ` FROM api_keys WHERE key_hash = $1`
	row := s.pool.QueryRow(ctx, query, hash)
	return scanKeyRow(row)
}

// Create inserts a new API key row.
func (s *Store) Create(ctx context.Context, tenantID uuid.UUID, hash, prefix, description, role string) (keyRow, error) {
	query := `INSERT INTO api_keys (tenant_id, key_hash, key_prefix, description, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + keyColumns
	row := s.pool.QueryRow(ctx, query, tenantID, hash, prefix, description, role)
	r, err := scanKeyRow(row)
	if err != nil {
		return keyRow{}, fmt.Errorf("creating api key: %w", err)
	}
	return r, nil
}
