package processor

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"

	"github.com/YodaheaD/assetintel/pkg/asset"
	"github.com/YodaheaD/assetintel/pkg/fetch"
	"github.com/YodaheaD/assetintel/pkg/result"
	"github.com/YodaheaD/assetintel/pkg/run"
	"github.com/YodaheaD/assetintel/pkg/searchindex"
)

const (
	embeddedTextMinLen = 30 // below this much text across the extracted pages, a PDF is treated as scan-only (unextractable here)
)

// OCRDeps holds the collaborators the ocr-text handler needs.
type OCRDeps struct {
	Runs         *run.Store
	Results      *result.Store
	Index        *searchindex.Store
	Assets       *asset.Store
	Fetcher      *fetch.Client
	MaxPDFPages  int
	MaxTextChars int
}

// NewOCRHandler builds the ocr-text processor handler. It dispatches on
// content-type: text/* is used verbatim, application/pdf attempts
// per-page embedded text extraction bounded to MaxPDFPages, and image/*
// is classified dependency_missing since no OCR engine dependency is wired
// into this deployment (spec.md's Non-goals explicitly place OCR/rasterize
// implementations outside the core; this repo ships no default one).
func NewOCRHandler(deps OCRDeps) Handler {
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
			return fmt.Errorf("fetching content: %w", err)
		}
		if err := deps.Runs.UpdateProgress(ctx, runID, 0, 1, "content downloaded"); err != nil {
			return fmt.Errorf("updating progress: %w", err)
		}

		if reloaded, err := deps.Runs.GetAny(ctx, runID); err == nil && reloaded.CancelRequested {
			return deps.Runs.MarkCanceled(ctx, runID, "canceled after download")
		}

		contentType := content.ContentType
		buf := make([]byte, 0, 512)
		sniffBuf := make([]byte, 512)
		n, _ := content.Body.ReadAt(sniffBuf, 0)
		buf = sniffBuf[:n]
		if contentType == "" || contentType == "application/octet-stream" {
			contentType = mimetype.Detect(buf).String()
		}

		switch {
		case strings.HasPrefix(contentType, "text/"):
			return handleTextContent(ctx, deps, r, runID, content.Body, deps.MaxTextChars)
		case contentType == "application/pdf":
			return handlePDFContent(ctx, deps, r, runID, content.Body, deps.MaxPDFPages, deps.MaxTextChars)
		case strings.HasPrefix(contentType, "image/"):
			return fmt.Errorf("dependency_missing: no OCR engine configured for image content")
		default:
			return fmt.Errorf("unsupported_content_type: %s", contentType)
		}
	}
}

func handleTextContent(ctx context.Context, deps OCRDeps, r run.Run, runID uuid.UUID, body *bytes.Reader, maxChars int) error {
	raw := make([]byte, body.Size())
	if _, err := body.ReadAt(raw, 0); err != nil {
		return fmt.Errorf("reading text content: %w", err)
	}
	text, truncated := truncateText(string(raw), maxChars)

	data := map[string]any{
		"text":       text,
		"page_count": 1,
		"pages_done": 1,
		"truncated":  truncated,
	}
	if _, err := deps.Results.Create(ctx, r.TenantID, r.AssetID, runID, result.TypeOCRText, nil, data); err != nil {
		return fmt.Errorf("writing ocr_text result: %w", err)
	}
	if err := finalizeOCRIndex(ctx, deps, r, text); err != nil {
		return err
	}
	if err := deps.Runs.UpdateProgress(ctx, runID, 1, 1, "finalized"); err != nil {
		return fmt.Errorf("updating progress: %w", err)
	}
	return deps.Runs.MarkCompleted(ctx, runID)
}

func handlePDFContent(ctx context.Context, deps OCRDeps, r run.Run, runID uuid.UUID, body *bytes.Reader, maxPages, maxChars int) error {
	pdfReader, err := pdf.NewReader(body, body.Size())
	if err != nil {
		return fmt.Errorf("pdf_rasterize_failed: opening pdf: %w", err)
	}

	totalPages := pdfReader.NumPage()
	pagesToRead := totalPages
	if maxPages > 0 && pagesToRead > maxPages {
		pagesToRead = maxPages
	}

	var sb strings.Builder
	for page := 1; page <= pagesToRead; page++ {
		if reloaded, err := deps.Runs.GetAny(ctx, runID); err == nil && reloaded.CancelRequested {
			return deps.Runs.MarkCanceled(ctx, runID, fmt.Sprintf("canceled after page %d", page-1))
		}

		p := pdfReader.Page(page)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return fmt.Errorf("pdf_rasterize_failed: extracting page %d: %w", page, err)
		}
		sb.WriteString(text)
		sb.WriteString("\n")

		partial := map[string]any{
			"pages_completed": page,
			"pages_total":     pagesToRead,
			"text_partial":    sb.String(),
		}
		if _, err := deps.Results.ReplacePartial(ctx, r.TenantID, r.AssetID, runID, partial); err != nil {
			return fmt.Errorf("writing partial ocr result: %w", err)
		}
		preview, _ := truncateText(sb.String(), 1000)
		if err := deps.Index.UpsertOCR(ctx, r.TenantID, r.AssetID, preview, sb.String()); err != nil {
			return fmt.Errorf("upserting partial search index: %w", err)
		}
		if err := deps.Runs.UpdateProgress(ctx, runID, page, pagesToRead, fmt.Sprintf("page %d/%d", page, pagesToRead)); err != nil {
			return fmt.Errorf("updating progress: %w", err)
		}
	}

	fullText := sb.String()
	if len(strings.TrimSpace(fullText)) < embeddedTextMinLen {
		return fmt.Errorf("pdf_rasterize_failed: embedded text too short, rasterized OCR fallback unavailable")
	}

	text, truncated := truncateText(fullText, maxChars)
	data := map[string]any{
		"text":       text,
		"page_count": totalPages,
		"pages_done": pagesToRead,
		"truncated":  truncated,
	}
	if _, err := deps.Results.Create(ctx, r.TenantID, r.AssetID, runID, result.TypeOCRText, nil, data); err != nil {
		return fmt.Errorf("writing ocr_text result: %w", err)
	}
	if err := finalizeOCRIndex(ctx, deps, r, text); err != nil {
		return err
	}
	return deps.Runs.MarkCompleted(ctx, runID)
}

func finalizeOCRIndex(ctx context.Context, deps OCRDeps, r run.Run, text string) error {
	preview, _ := truncateText(text, 1000)
	if err := deps.Index.UpsertOCR(ctx, r.TenantID, r.AssetID, preview, text); err != nil {
		return fmt.Errorf("upserting ocr search index: %w", err)
	}
	return nil
}

func truncateText(s string, maxChars int) (string, bool) {
	if maxChars <= 0 || len(s) <= maxChars {
		return s, false
	}
	return s[:maxChars], true
}
