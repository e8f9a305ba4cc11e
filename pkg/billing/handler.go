package billing

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/YodaheaD/assetintel/internal/httpserver"
)

// Handler exposes the payments webhook ingest endpoint. Unlike the rest of
// the HTTP surface this is unauthenticated by X-API-Key — the tenant is
// carried inside the signed envelope itself (spec.md §6 External
// collaborators: "Payments/webhook ingest").
type Handler struct {
	service *Service
}

// NewHandler creates a Handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Mount registers the webhook route on r (the server's public router).
func (h *Handler) Mount(r chi.Router) {
	r.Post("/billing/webhook", h.handleWebhook)
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	const maxBody = 1 << 20
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "failed to read webhook body")
		return
	}

	signature := r.Header.Get("X-Webhook-Signature")
	if err := h.service.HandleWebhook(r.Context(), body, signature); err != nil {
		if err == ErrInvalidSignature {
			httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "invalid webhook signature")
			return
		}
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "failed to process webhook")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]bool{"received": true})
}
