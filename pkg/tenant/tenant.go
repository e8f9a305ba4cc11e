// Package tenant carries the authenticated tenant identity through a
// request's context. Unlike the schema-per-tenant model this package
// originally supported, every store in this repo filters by a tenant_id
// column (see SPEC_FULL.md's Multi-tenancy note), so Info only needs the ID
// and role — there is no per-tenant schema to switch into.
package tenant

import (
	"context"

	"github.com/google/uuid"
)

// Role is the caller's permission level, resolved by the Identity provider.
type Role string

const (
	RoleOwner   Role = "owner"
	RoleAdmin   Role = "admin"
	RoleMember  Role = "member"
	RoleService Role = "service"
)

// Info holds the resolved tenant identity for the current request.
type Info struct {
	ID   uuid.UUID
	Role Role
}

type contextKey string

const infoKey contextKey = "tenant_info"

// NewContext stores tenant info in the context.
func NewContext(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, infoKey, info)
}

// FromContext extracts the tenant info from the context. ok is false if no
// tenant has been resolved (e.g. on unauthenticated routes).
func FromContext(ctx context.Context) (Info, bool) {
	v, ok := ctx.Value(infoKey).(Info)
	return v, ok
}

// MustFromContext extracts tenant info, panicking if absent. Only safe to
// call from handlers mounted behind the auth middleware.
func MustFromContext(ctx context.Context) Info {
	v, ok := FromContext(ctx)
	if !ok {
		panic("tenant.MustFromContext: no tenant in context")
	}
	return v
}
