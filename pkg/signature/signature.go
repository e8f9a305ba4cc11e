// Package signature derives a content-identity string for an asset from its
// latest fingerprint result, used by the Admission Service's idempotency
// check (spec.md §4.1).
package signature

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/YodaheaD/assetintel/pkg/result"
)

// ResultLookup is the subset of result.Store this Service needs.
type ResultLookup interface {
	LatestByAssetAndType(ctx context.Context, tenantID, assetID uuid.UUID, typ result.Type) (result.Result, error)
}

// Service derives content-identity signatures.
type Service struct {
	results ResultLookup
}

// NewService creates a Service.
func NewService(results ResultLookup) *Service {
	return &Service{results: results}
}

// Derive computes the strongest-available signature for an asset from its
// latest fingerprint result, precedence: sha256 > etag > (content_length +
// last_modified) > null (absent fingerprint).
func (s *Service) Derive(ctx context.Context, tenantID, assetID uuid.UUID) (*string, error) {
	r, err := s.results.LatestByAssetAndType(ctx, tenantID, assetID, result.TypeFingerprint)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("looking up latest fingerprint result: %w", err)
	}
	return DeriveFromData(r.Data), nil
}

// DeriveFromData applies the signature precedence directly to a
// fingerprint result's Data map, used both by the Signature Service and by
// the fingerprint handler writing its own run's input_fingerprint_signature.
func DeriveFromData(data map[string]any) *string {
	if v, ok := stringField(data, "sha256"); ok && v != "" {
		sig := "sha256:" + v
		return &sig
	}
	if v, ok := stringField(data, "etag"); ok && v != "" {
		sig := "etag:" + v
		return &sig
	}
	length, hasLength := data["content_length"]
	modified, hasModified := stringField(data, "last_modified")
	if hasLength && hasModified && modified != "" {
		sig := fmt.Sprintf("lenlm:%v:%s", length, modified)
		return &sig
	}
	return nil
}

func stringField(data map[string]any, key string) (string, bool) {
	v, ok := data[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
