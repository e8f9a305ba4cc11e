package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/YodaheaD/assetintel/pkg/tenant"
)

// ErrKeyNotFound is returned when an API key hash has no matching row.
var ErrKeyNotFound = errors.New("api key not found")

// Resolver maps an API key to the authenticated tenant identity. This is the
// boundary interface the core depends on; the core never imports Service
// directly, only this interface (SPEC_FULL.md §4.9).
type Resolver interface {
	Resolve(ctx context.Context, rawKey string) (tenant.Info, error)
}

// Service is the default Postgres-backed Resolver implementation.
type Service struct {
	store *Store
}

// NewService creates a Service backed by the given global pool.
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{store: NewStore(pool)}
}

var _ Resolver = (*Service)(nil)

// Resolve hashes rawKey and looks up the owning tenant and role.
func (s *Service) Resolve(ctx context.Context, rawKey string) (tenant.Info, error) {
	hash := hashKey(rawKey)
	row, err := s.store.GetByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return tenant.Info{}, ErrKeyNotFound
		}
		return tenant.Info{}, fmt.Errorf("resolving api key: %w", err)
	}
	return tenant.Info{ID: row.TenantID, Role: tenant.Role(row.Role)}, nil
}

// CreateKey generates a new API key for tenantID, persists its hash, and
// returns the raw key — shown to the caller exactly once.
func (s *Service) CreateKey(ctx context.Context, tenantID uuid.UUID, description string, role tenant.Role) (CreateResponse, error) {
	raw, hash, prefix := generateKey()

	row, err := s.store.Create(ctx, tenantID, hash, prefix, description, string(role))
	if err != nil {
		return CreateResponse{}, err
	}

	return CreateResponse{
		Key: Key{
			ID:          row.ID,
			TenantID:    row.TenantID,
			KeyPrefix:   row.KeyPrefix,
			Description: row.Description,
			Role:        row.Role,
			CreatedAt:   row.CreatedAt,
		},
		RawKey: raw,
	}, nil
}

func hashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// generateKey creates a random API key with prefix "ai_", its SHA-256 hash,
// and a short display prefix. Grounded on the teacher's pkg/apikey/service.go.
func generateKey() (raw, hash, prefix string) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	raw = fmt.Sprintf("ai_%x", b)
	hash = hashKey(raw)
	prefix = raw[:10]
	return
}
