package processor

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/YodaheaD/assetintel/pkg/asset"
	"github.com/YodaheaD/assetintel/pkg/fetch"
	"github.com/YodaheaD/assetintel/pkg/result"
	"github.com/YodaheaD/assetintel/pkg/run"
	"github.com/YodaheaD/assetintel/pkg/searchindex"
	"github.com/YodaheaD/assetintel/pkg/signature"
)

// FingerprintDeps holds the collaborators the fingerprint handler needs.
type FingerprintDeps struct {
	Runs    *run.Store
	Results *result.Store
	Index   *searchindex.Store
	Assets  *asset.Store
	Fetcher *fetch.Client
}

// NewFingerprintHandler builds the asset-fingerprint processor handler
// (spec.md §4.3: "Fingerprint handler performs HEAD, and GET-with-hashing
// only when no ETag is advertised").
func NewFingerprintHandler(deps FingerprintDeps) Handler {
	return func(ctx context.Context, runIDStr string) error {
		runID, err := uuid.Parse(runIDStr)
		if err != nil {
			return fmt.Errorf("parsing run id: %w", err)
		}

		r, err := deps.Runs.GetAny(ctx, runID)
		if err != nil {
			return fmt.Errorf("loading run: %w", err)
		}

		if r.CancelRequested {
			return deps.Runs.MarkCanceled(ctx, runID, "canceled before start")
		}

		if err := deps.Runs.MarkRunning(ctx, runID); err != nil {
			return fmt.Errorf("marking run running: %w", err)
		}

		a, err := deps.Assets.Get(ctx, r.TenantID, r.AssetID)
		if err != nil {
			return fmt.Errorf("loading asset: %w", err)
		}

		meta, err := deps.Fetcher.Head(ctx, a.URI)
		if err != nil {
			return fmt.Errorf("fetching asset headers: %w", err)
		}
		if err := deps.Runs.UpdateProgress(ctx, runID, 1, 2, "headers fetched"); err != nil {
			return fmt.Errorf("updating progress: %w", err)
		}

		if reloaded, err := deps.Runs.GetAny(ctx, runID); err == nil && reloaded.CancelRequested {
			return deps.Runs.MarkCanceled(ctx, runID, "canceled after headers fetched")
		}

		data := map[string]any{
			"content_type": nullableString(meta.ContentType),
			"etag":         nullableString(meta.ETag),
			"last_modified": nullableString(meta.LastModified),
		}
		if meta.ContentLength > 0 {
			data["content_length"] = meta.ContentLength
		}

		var sha *string
		if meta.ETag == "" {
			content, err := deps.Fetcher.GetForFingerprint(ctx, a.URI)
			if err != nil {
				return fmt.Errorf("fetching asset body for hashing: %w", err)
			}
			sha = &content.SHA256
			data["sha256"] = content.SHA256
			if content.ContentLength > 0 {
				data["content_length"] = content.ContentLength
			}
		}

		sig := signature.DeriveFromData(data)

		if _, err := deps.Results.Create(ctx, r.TenantID, r.AssetID, runID, result.TypeFingerprint, nil, data); err != nil {
			return fmt.Errorf("writing fingerprint result: %w", err)
		}

		upsert := searchindex.FingerprintUpsert{
			TenantID:      r.TenantID,
			AssetID:       r.AssetID,
			ETag:          nullableStringPtr(meta.ETag),
			ContentType:   nullableStringPtr(meta.ContentType),
			LastModified:  nullableStringPtr(meta.LastModified),
		}
		if sha != nil {
			upsert.SHA256 = sha
		}
		if meta.ContentLength > 0 {
			upsert.ContentLength = &meta.ContentLength
		}
		if err := deps.Index.UpsertFingerprint(ctx, upsert); err != nil {
			return fmt.Errorf("upserting fingerprint search index: %w", err)
		}

		// The run's own input_fingerprint_signature is stamped after
		// persisting, enabling downstream signature-aware idempotency
		// (spec.md §4.3: "it also writes input_fingerprint_signature on its
		// own run").
		if sig != nil {
			if err := stampOwnSignature(ctx, deps.Runs, runID, *sig); err != nil {
				return fmt.Errorf("stamping own signature: %w", err)
			}
		}

		if err := deps.Runs.UpdateProgress(ctx, runID, 2, 2, "finalized"); err != nil {
			return fmt.Errorf("updating progress: %w", err)
		}
		return deps.Runs.MarkCompleted(ctx, runID)
	}
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableStringPtr(s string) *string {
	return nullableString(s)
}

// stampOwnSignature sets input_fingerprint_signature directly via a
// dedicated run store method, since the generic Run fields are otherwise
// write-once-at-admission.
func stampOwnSignature(ctx context.Context, runs *run.Store, runID uuid.UUID, sig string) error {
	return runs.SetInputFingerprintSignature(ctx, runID, sig)
}
