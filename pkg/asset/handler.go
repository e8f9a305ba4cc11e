package asset

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/YodaheaD/assetintel/internal/httpserver"
	"github.com/YodaheaD/assetintel/pkg/tenant"
)

// createRequest is the POST /assets request body.
type createRequest struct {
	URI string `json:"uri" validate:"required,uri"`
}

// Handler exposes the Asset Service's HTTP surface (POST /assets, GET /assets/{id}).
type Handler struct {
	store *Store
}

// NewHandler creates a Handler.
func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// Mount registers the asset routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/assets", h.handleCreate)
	r.Get("/assets/{assetID}", h.handleGet)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	info := tenant.MustFromContext(r.Context())

	var req createRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	a, err := h.store.Create(r.Context(), info.ID, req.URI)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create asset")
		return
	}
	httpserver.Respond(w, http.StatusCreated, a)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	info := tenant.MustFromContext(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "assetID"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_id", "invalid asset id")
		return
	}

	a, err := h.store.Get(r.Context(), info.ID, id)
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "asset not found")
		return
	}
	httpserver.Respond(w, http.StatusOK, a)
}
