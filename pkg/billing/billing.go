// Package billing implements the payments/webhook ingest blackbox
// collaborator: a generic signed-webhook envelope verified with
// HMAC-SHA256, the same verification shape the teacher uses for its
// Slack/Mattermost webhook signatures (spec.md §3, §5, SPEC_FULL.md §4.9).
package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/YodaheaD/assetintel/pkg/quota"
)

// ErrInvalidSignature is returned when the webhook's HMAC doesn't match.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Envelope is the generic signed-webhook payload this service accepts.
type Envelope struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Created   time.Time `json:"created"`
	TenantID  uuid.UUID `json:"tenant_id"`
	Plan      string    `json:"plan"`
}

// VerifySignature checks an HMAC-SHA256 hex signature over body using secret,
// grounded on the teacher's pkg/slack/verify.go and pkg/mattermost/verify.go
// shared-secret verification pattern.
func VerifySignature(body []byte, signatureHex, secret string) error {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signatureHex)) {
		return ErrInvalidSignature
	}
	return nil
}

// Service implements the payments webhook ingest.
type Service struct {
	pool   *pgxpool.Pool
	secret string
}

// NewService creates a Service.
func NewService(pool *pgxpool.Pool, webhookSecret string) *Service {
	return &Service{pool: pool, secret: webhookSecret}
}

// HandleWebhook verifies and applies a webhook delivery. It records the
// event unconditionally (for audit/idempotency via the unique
// stripe_event_id constraint), then applies the plan update only if this
// event is newer than whatever was last applied for the tenant — the
// optimistic-lock rule from spec.md §5 ("webhook-driven plan updates are
// ordered by stripe_event_created; older events are ignored").
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signatureHex string) error {
	if err := VerifySignature(body, signatureHex, s.secret); err != nil {
		return err
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decoding webhook envelope: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning webhook transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `INSERT INTO stripe_events (stripe_event_id, tenant_id, event_type, event_created, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (stripe_event_id) DO NOTHING`,
		env.EventID, env.TenantID, env.EventType, env.Created, body)
	if err != nil {
		return fmt.Errorf("recording webhook event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already-seen event id: nothing further to do (idempotent replay).
		return tx.Commit(ctx)
	}

	var lastApplied *time.Time
	err = tx.QueryRow(ctx, `SELECT max(event_created) FROM stripe_events
		WHERE tenant_id = $1 AND applied_at IS NOT NULL`, env.TenantID).Scan(&lastApplied)
	if err != nil {
		return fmt.Errorf("checking last applied event: %w", err)
	}

	if lastApplied != nil && !env.Created.After(*lastApplied) {
		// Older or same-timestamp event than what's already applied: ignored.
		return tx.Commit(ctx)
	}

	plan := quota.Plan(env.Plan)
	if _, ok := quota.PlanLimits[plan]; !ok {
		plan = quota.PlanFree
	}

	_, err = tx.Exec(ctx, `INSERT INTO tenant_plans (tenant_id, plan, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (tenant_id) DO UPDATE SET plan = EXCLUDED.plan, updated_at = now()`,
		env.TenantID, plan)
	if err != nil {
		return fmt.Errorf("updating tenant plan: %w", err)
	}

	_, err = tx.Exec(ctx, `UPDATE stripe_events SET applied_at = now() WHERE stripe_event_id = $1`, env.EventID)
	if err != nil {
		return fmt.Errorf("stamping applied_at: %w", err)
	}

	return tx.Commit(ctx)
}

// PlanFor implements admission.TenantPlans: looks up the tenant's current
// plan, defaulting to free when no TenantPlan row exists yet.
func (s *Service) PlanFor(ctx context.Context, tenantID uuid.UUID) (quota.Plan, error) {
	var plan quota.Plan
	err := s.pool.QueryRow(ctx, `SELECT plan FROM tenant_plans WHERE tenant_id = $1`, tenantID).Scan(&plan)
	if err != nil {
		return quota.PlanFree, nil
	}
	return plan, nil
}
