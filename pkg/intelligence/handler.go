// Package intelligence mounts the run-lifecycle HTTP surface (spec.md §6):
// admission, run/result status, cancellation, the search/related-assets
// lookups, and the admin dead-letter console, composed over the services
// already implemented by pkg/admission, pkg/cancellation, pkg/searchindex,
// pkg/related, and pkg/deadletter.
package intelligence

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/YodaheaD/assetintel/internal/apperr"
	"github.com/YodaheaD/assetintel/internal/httpserver"
	"github.com/YodaheaD/assetintel/pkg/admission"
	"github.com/YodaheaD/assetintel/pkg/cancellation"
	"github.com/YodaheaD/assetintel/pkg/deadletter"
	"github.com/YodaheaD/assetintel/pkg/processor"
	"github.com/YodaheaD/assetintel/pkg/related"
	"github.com/YodaheaD/assetintel/pkg/result"
	"github.com/YodaheaD/assetintel/pkg/run"
	"github.com/YodaheaD/assetintel/pkg/searchindex"
	"github.com/YodaheaD/assetintel/pkg/signature"
	"github.com/YodaheaD/assetintel/pkg/tenant"
)

// Handler mounts the intelligence run lifecycle's HTTP surface.
type Handler struct {
	admission    *admission.Service
	runs         *run.Store
	results      *result.Store
	cancellation *cancellation.Service
	index        *searchindex.Store
	related      *related.Ranker
	deadletter   *deadletter.Service
	signatures   *signature.Service
	registry     *processor.Registry
}

// NewHandler creates a Handler.
func NewHandler(
	admissionSvc *admission.Service,
	runs *run.Store,
	results *result.Store,
	cancellationSvc *cancellation.Service,
	index *searchindex.Store,
	relatedRanker *related.Ranker,
	deadletterSvc *deadletter.Service,
	signatures *signature.Service,
	registry *processor.Registry,
) *Handler {
	return &Handler{
		admission:    admissionSvc,
		runs:         runs,
		results:      results,
		cancellation: cancellationSvc,
		index:        index,
		related:      relatedRanker,
		deadletter:   deadletterSvc,
		signatures:   signatures,
		registry:     registry,
	}
}

// Mount registers the tenant-scoped intelligence routes on r and the
// admin-key-gated dead-letter console routes on admin.
func (h *Handler) Mount(r chi.Router, admin chi.Router) {
	r.Post("/assets/{assetID}/intelligence/{processor}", h.handleEnqueue)
	r.Post("/assets/{assetID}/intelligence/{processor}/cancel", h.handleCancelByAssetProcessor)
	r.Get("/assets/{assetID}/intelligence/runs", h.handleListRuns)
	r.Get("/assets/{assetID}/intelligence/runs/latest", h.handleLatestRun)
	r.Get("/assets/{assetID}/intelligence/summary", h.handleSummary)
	r.Get("/assets/{assetID}/index/status", h.handleIndexStatus)
	r.Get("/assets/{assetID}/related", h.handleRelated)
	r.Get("/intelligence/runs/{runID}", h.handleRunStatus)
	r.Post("/intelligence/runs/{runID}/cancel", h.handleCancelRun)
	r.Get("/search/assets", h.handleSearchAssets)
	r.Get("/search/duplicates", h.handleSearchDuplicates)

	admin.Get("/deadletter/intelligence_runs", h.handleAdminListDeadletters)
	admin.Post("/deadletter/intelligence_runs/{runID}/requeue", h.handleAdminRequeueRun)
	admin.Post("/deadletter/assets/{assetID}/requeue_latest", h.handleAdminRequeueLatestForAsset)
}

func pathAssetID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "assetID"))
}

func pathRunID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "runID"))
}

// runStatusResponse is the GET /intelligence/runs/{run_id} shape: the run's
// own status plus any result rows it has written so far (spec.md §6: "incl.
// progress, partial result, cancel flag").
type runStatusResponse struct {
	run.Response
	Results []result.Response `json:"results"`
}

func (h *Handler) loadRunStatus(w http.ResponseWriter, r *http.Request, rn run.Run) {
	results, err := h.results.ListByRun(r.Context(), rn.ID)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load run results")
		return
	}
	resp := runStatusResponse{Response: rn.ToResponse(), Results: make([]result.Response, 0, len(results))}
	for _, res := range results {
		resp.Results = append(resp.Results, res.ToResponse())
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	info := tenant.MustFromContext(r.Context())

	assetID, err := pathAssetID(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_id", "invalid asset id")
		return
	}
	processorName := chi.URLParam(r, "processor")

	opts := admission.Options{
		Force: queryBool(r, "force"),
		Retry: queryBool(r, "retry"),
	}

	created, err := h.admission.Enqueue(r.Context(), info.ID, assetID, processorName, opts)
	if err != nil {
		httpserver.RespondDomainError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusAccepted, created.ToResponse())
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	info := tenant.MustFromContext(r.Context())
	assetID, err := pathAssetID(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_id", "invalid asset id")
		return
	}

	runs, err := h.runs.ListByAsset(r.Context(), info.ID, assetID)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list runs")
		return
	}
	resp := make([]run.Response, 0, len(runs))
	for _, rn := range runs {
		resp = append(resp, rn.ToResponse())
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"runs": resp})
}

func (h *Handler) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	info := tenant.MustFromContext(r.Context())
	assetID, err := pathAssetID(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_id", "invalid asset id")
		return
	}
	processorName := r.URL.Query().Get("processor")
	if processorName == "" {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "processor query parameter is required")
		return
	}
	version, ok := h.registry.Lookup(processorName)
	if !ok {
		httpserver.RespondDomainError(w, apperr.New(apperr.KindUnknownProcessor, "unknown processor: "+processorName))
		return
	}

	latest, err := h.runs.GetLatest(r.Context(), info.ID, assetID, processorName, version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "no run found for this processor")
			return
		}
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to look up latest run")
		return
	}
	h.loadRunStatus(w, r, latest)
}

func (h *Handler) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	info := tenant.MustFromContext(r.Context())
	runID, err := pathRunID(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_id", "invalid run id")
		return
	}

	rn, err := h.runs.Get(r.Context(), info.ID, runID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "run not found")
			return
		}
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load run")
		return
	}
	h.loadRunStatus(w, r, rn)
}

func (h *Handler) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	info := tenant.MustFromContext(r.Context())
	runID, err := pathRunID(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_id", "invalid run id")
		return
	}

	// Verify tenant ownership before requesting cancellation — Cancellation
	// Service's Request operates on a bare run id.
	if _, err := h.runs.Get(r.Context(), info.ID, runID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "run not found")
			return
		}
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load run")
		return
	}

	result, err := h.cancellation.Request(r.Context(), runID)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to request cancellation")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"run_id":            result.RunID,
		"already_requested": result.AlreadyRequested,
	})
}

func (h *Handler) handleCancelByAssetProcessor(w http.ResponseWriter, r *http.Request) {
	info := tenant.MustFromContext(r.Context())
	assetID, err := pathAssetID(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_id", "invalid asset id")
		return
	}
	processorName := chi.URLParam(r, "processor")

	result, err := h.cancellation.RequestLatestForAsset(r.Context(), info.ID, assetID, processorName, true)
	if err != nil {
		if errors.Is(err, cancellation.ErrNoActiveRun) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "no active run for this asset/processor")
			return
		}
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to request cancellation")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"run_id":            result.RunID,
		"already_requested": result.AlreadyRequested,
	})
}

// summaryEntry is one processor's latest-run snapshot plus its latest result.
type summaryEntry struct {
	Run    run.Response      `json:"run"`
	Result *result.Response  `json:"result,omitempty"`
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	info := tenant.MustFromContext(r.Context())
	assetID, err := pathAssetID(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_id", "invalid asset id")
		return
	}

	latestRuns, err := h.runs.LatestPerProcessor(r.Context(), info.ID, assetID)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load run summary")
		return
	}

	runIDs := make([]uuid.UUID, 0, len(latestRuns))
	for _, rn := range latestRuns {
		runIDs = append(runIDs, rn.ID)
	}
	results, err := h.results.ListByRuns(r.Context(), runIDs)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load results")
		return
	}
	latestResultByRun := map[uuid.UUID]result.Result{}
	for _, res := range results {
		// ListByRuns orders oldest-first; keep overwriting so the last
		// write wins and each run ends up mapped to its newest result.
		latestResultByRun[res.RunID] = res
	}

	entries := make([]summaryEntry, 0, len(latestRuns))
	for _, rn := range latestRuns {
		entry := summaryEntry{Run: rn.ToResponse()}
		if res, ok := latestResultByRun[rn.ID]; ok {
			resp := res.ToResponse()
			entry.Result = &resp
		}
		entries = append(entries, entry)
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"processors": entries})
}

func (h *Handler) handleIndexStatus(w http.ResponseWriter, r *http.Request) {
	info := tenant.MustFromContext(r.Context())
	assetID, err := pathAssetID(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_id", "invalid asset id")
		return
	}

	entry, err := h.index.Get(r.Context(), info.ID, assetID)
	indexed := err == nil
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load search index entry")
		return
	}

	if !queryBool(r, "auto_retry_ocr") || (indexed && entry.HasOCRIndex) {
		resp := map[string]any{"indexed": indexed}
		if indexed {
			resp["has_ocr_index"] = entry.HasOCRIndex
		}
		httpserver.Respond(w, http.StatusOK, resp)
		return
	}

	currentSig, err := h.signatures.Derive(r.Context(), info.ID, assetID)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to derive content signature")
		return
	}
	decision, err := h.deadletter.EvaluateOCRAutoRetry(r.Context(), info.ID, assetID, currentSig)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to evaluate OCR auto-retry")
		return
	}
	if !decision.Eligible {
		httpserver.Respond(w, http.StatusOK, map[string]any{"indexed": indexed, "auto_retry": decision})
		return
	}

	latest, err := h.runs.GetLatest(r.Context(), info.ID, assetID, "ocr-text", "v1")
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load latest ocr-text run")
		return
	}
	if err := h.deadletter.Requeue(r.Context(), info.ID, latest.ID); err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to requeue ocr-text run")
		return
	}
	httpserver.Respond(w, http.StatusAccepted, map[string]any{"indexed": indexed, "auto_retry_started": true})
}

func (h *Handler) handleRelated(w http.ResponseWriter, r *http.Request) {
	info := tenant.MustFromContext(r.Context())
	assetID, err := pathAssetID(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_id", "invalid asset id")
		return
	}
	limitPerBucket := queryInt(r, "limit_per_bucket", 10)

	_, err = h.index.Get(r.Context(), info.ID, assetID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load search index entry")
			return
		}
		if !queryBool(r, "ensure_index") {
			httpserver.Respond(w, http.StatusOK, map[string]any{"indexed": false, "candidates": []related.Candidate{}})
			return
		}
		if _, enqueueErr := h.admission.Enqueue(r.Context(), info.ID, assetID, "asset-fingerprint", admission.Options{}); enqueueErr != nil {
			httpserver.RespondDomainError(w, enqueueErr)
			return
		}
		httpserver.Respond(w, http.StatusAccepted, map[string]any{"indexed": false, "indexing_started": true})
		return
	}

	candidates, err := h.related.FindRelated(r.Context(), info.ID, assetID, limitPerBucket)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to compute related assets")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"indexed": true, "candidates": candidates})
}

func (h *Handler) handleSearchAssets(w http.ResponseWriter, r *http.Request) {
	info := tenant.MustFromContext(r.Context())
	query := r.URL.Query().Get("query")
	if query == "" {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "query parameter is required")
		return
	}
	limit := queryInt(r, "limit", httpserver.DefaultPageSize)
	if limit > httpserver.MaxPageSize {
		limit = httpserver.MaxPageSize
	}
	offset := queryInt(r, "offset", 0)

	hits, err := h.index.Search(r.Context(), info.ID, query, limit, offset)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "search failed")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"hits": hits})
}

func (h *Handler) handleSearchDuplicates(w http.ResponseWriter, r *http.Request) {
	info := tenant.MustFromContext(r.Context())
	sha := optionalQueryString(r, "sha256")
	etag := optionalQueryString(r, "etag")
	if sha == nil && etag == nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "sha256 or etag is required")
		return
	}
	limit := queryInt(r, "limit", httpserver.DefaultPageSize)
	if limit > httpserver.MaxPageSize {
		limit = httpserver.MaxPageSize
	}

	entries, err := h.index.FindDuplicates(r.Context(), searchindex.DuplicateLookup{
		TenantID: info.ID,
		SHA256:   sha,
		ETag:     etag,
		Limit:    limit,
	})
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"duplicates": entries})
}

func (h *Handler) handleAdminListDeadletters(w http.ResponseWriter, r *http.Request) {
	info := tenant.MustFromContext(r.Context())
	offset, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if r.URL.Query().Get("page_size") == "" {
		if limit := queryInt(r, "limit", 0); limit > 0 {
			if limit > httpserver.MaxPageSize {
				limit = httpserver.MaxPageSize
			}
			offset.PageSize = limit
			offset.Offset = (offset.Page - 1) * offset.PageSize
		}
	}

	events, total, err := h.deadletter.List(r.Context(), deadletter.ListParams{
		TenantID:  info.ID,
		Processor: r.URL.Query().Get("processor"),
		Offset:    offset.Offset,
		Limit:     offset.PageSize,
	})
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list dead-letter events")
		return
	}
	resp := make([]deadletter.Response, 0, len(events))
	for _, e := range events {
		resp = append(resp, e.ToResponse())
	}
	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(resp, offset, total))
}

func (h *Handler) handleAdminRequeueRun(w http.ResponseWriter, r *http.Request) {
	info := tenant.MustFromContext(r.Context())
	runID, err := pathRunID(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_id", "invalid run id")
		return
	}
	if err := h.deadletter.Requeue(r.Context(), info.ID, runID); err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to requeue run")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"run_id": runID, "requeued": true})
}

func (h *Handler) handleAdminRequeueLatestForAsset(w http.ResponseWriter, r *http.Request) {
	info := tenant.MustFromContext(r.Context())
	assetID, err := pathAssetID(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_id", "invalid asset id")
		return
	}
	processorName := r.URL.Query().Get("processor_name")
	if processorName == "" {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "processor_name query parameter is required")
		return
	}

	if err := h.deadletter.RequeueLatestForAsset(r.Context(), info.ID, assetID, processorName); err != nil {
		if errors.Is(err, deadletter.ErrNoPendingEvent) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "no pending dead-letter event for this asset/processor")
			return
		}
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to requeue latest dead-letter event")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"asset_id": assetID, "processor_name": processorName, "requeued": true})
}

func queryBool(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	if err != nil {
		return false
	}
	return v
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func optionalQueryString(r *http.Request, key string) *string {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil
	}
	return &v
}
