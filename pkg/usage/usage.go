// Package usage owns the OrgUsage entity and the per-tenant monthly
// accounting the Usage Service increments on successful run completion
// (spec.md §3, §4.7).
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/YodaheaD/assetintel/pkg/quota"
)

// OrgUsage is one tenant's accounting row for a calendar-month period.
type OrgUsage struct {
	TenantID           uuid.UUID
	Period             string // "YYYY-MM"
	IntelligenceRuns   int
	EstimatedCostCents int
}

// Store provides raw-pgx persistence for OrgUsage rows.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// CurrentPeriod returns the "YYYY-MM" period string for t, in UTC.
func CurrentPeriod(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Get fetches a tenant's usage for a period, returning a zeroed OrgUsage
// (not an error) if no row exists yet — quota checks treat absence as zero usage.
func (s *Store) Get(ctx context.Context, tenantID uuid.UUID, period string) (OrgUsage, error) {
	query := `SELECT tenant_id, period, intelligence_runs, estimated_cost_cents
		FROM org_usage WHERE tenant_id = $1 AND period = $2`
	var u OrgUsage
	err := s.pool.QueryRow(ctx, query, tenantID, period).Scan(&u.TenantID, &u.Period, &u.IntelligenceRuns, &u.EstimatedCostCents)
	if err != nil {
		return OrgUsage{TenantID: tenantID, Period: period}, nil
	}
	return u, nil
}

// RecordUsage upserts into OrgUsage(tenant, period): intelligence_runs += 1,
// estimated_cost_cents += costCents. Called exactly once per transition to
// completed of any billable run (invariant I3).
func (s *Store) RecordUsage(ctx context.Context, tenantID uuid.UUID, period string, costCents int) error {
	query := `INSERT INTO org_usage (tenant_id, period, intelligence_runs, estimated_cost_cents)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (tenant_id, period) DO UPDATE SET
			intelligence_runs = org_usage.intelligence_runs + 1,
			estimated_cost_cents = org_usage.estimated_cost_cents + EXCLUDED.estimated_cost_cents`
	_, err := s.pool.Exec(ctx, query, tenantID, period, costCents)
	if err != nil {
		return fmt.Errorf("recording usage: %w", err)
	}
	return nil
}

// Service wraps Store with the processor price lookup so callers don't
// need to import pkg/quota directly.
type Service struct {
	store *Store
}

// NewService creates a Service.
func NewService(store *Store) *Service {
	return &Service{store: store}
}

// RecordCompletion records usage for a successful run completion, pricing
// the job via the frozen processor price table.
func (s *Service) RecordCompletion(ctx context.Context, tenantID uuid.UUID, processorName string, completedAt time.Time) error {
	cost := quota.PriceFor(processorName)
	period := CurrentPeriod(completedAt)
	return s.store.RecordUsage(ctx, tenantID, period, cost)
}

// CurrentUsage returns the tenant's usage for the current calendar month.
func (s *Service) CurrentUsage(ctx context.Context, tenantID uuid.UUID) (OrgUsage, error) {
	return s.store.Get(ctx, tenantID, CurrentPeriod(time.Now()))
}
