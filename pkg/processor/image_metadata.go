package processor

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/google/uuid"

	"github.com/YodaheaD/assetintel/pkg/asset"
	"github.com/YodaheaD/assetintel/pkg/fetch"
	"github.com/YodaheaD/assetintel/pkg/result"
	"github.com/YodaheaD/assetintel/pkg/run"
)

// ImageMetadataDeps holds the collaborators the image-metadata handler needs.
type ImageMetadataDeps struct {
	Runs    *run.Store
	Results *result.Store
	Assets  *asset.Store
	Fetcher *fetch.Client
}

// NewImageMetadataHandler builds the image-metadata processor handler. It
// decodes only the image header (width, height, format) via the standard
// library's registered decoders plus golang.org/x/image/webp — no full
// image-processing stack (SPEC_FULL.md §4.8).
func NewImageMetadataHandler(deps ImageMetadataDeps) Handler {
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

		content, err := deps.Fetcher.GetForOCR(ctx, a.URI)
		if err != nil {
			return fmt.Errorf("fetching image bytes: %w", err)
		}
		if err := deps.Runs.UpdateProgress(ctx, runID, 1, 2, "content downloaded"); err != nil {
			return fmt.Errorf("updating progress: %w", err)
		}

		if reloaded, err := deps.Runs.GetAny(ctx, runID); err == nil && reloaded.CancelRequested {
			return deps.Runs.MarkCanceled(ctx, runID, "canceled after download")
		}

		cfg, format, err := image.DecodeConfig(content.Body)
		if err != nil {
			return fmt.Errorf("decoding image header: %w", err)
		}

		data := map[string]any{
			"format": format,
			"width":  cfg.Width,
			"height": cfg.Height,
		}

		if _, err := deps.Results.Create(ctx, r.TenantID, r.AssetID, runID, result.TypeImageMetadata, nil, data); err != nil {
			return fmt.Errorf("writing image-metadata result: %w", err)
		}

		if err := deps.Runs.UpdateProgress(ctx, runID, 2, 2, "finalized"); err != nil {
			return fmt.Errorf("updating progress: %w", err)
		}
		return deps.Runs.MarkCompleted(ctx, runID)
	}
}
