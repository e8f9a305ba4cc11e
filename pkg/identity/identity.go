// Package identity implements the Identity provider boundary from
// SPEC_FULL.md §4.9: mapping an opaque X-API-Key to a (tenant_id, role) pair.
// The core run lifecycle engine only depends on the Resolver interface;
// Store/Service here are the default Postgres-backed implementation needed
// to run the whole thing standalone.
package identity

import (
	"time"

	"github.com/google/uuid"
)

// Key is a created API key, returned once with its raw value.
type Key struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	KeyPrefix   string
	Description string
	Role        string
	CreatedAt   time.Time
}

// CreateResponse includes the raw key, shown only at creation time.
type CreateResponse struct {
	Key
	RawKey string
}

// keyRow mirrors the public.api_keys table.
type keyRow struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	KeyHash     string
	KeyPrefix   string
	Description string
	Role        string
	CreatedAt   time.Time
}
