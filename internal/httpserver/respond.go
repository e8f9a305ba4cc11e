package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/YodaheaD/assetintel/internal/apperr"
)

// Respond writes a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// ErrorResponse is the standard JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RespondError writes a JSON error response.
func RespondError(w http.ResponseWriter, status int, errKind string, message string) {
	Respond(w, status, ErrorResponse{
		Error:   errKind,
		Message: message,
	})
}

// RespondDomainError inspects err for an apperr.Kind and writes the matching
// status code and error envelope. Callers that need a custom message should
// call RespondError directly instead.
func RespondDomainError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	kind := string(apperr.KindOf(err))
	if kind == "" {
		kind = "internal_error"
	}
	Respond(w, status, ErrorResponse{
		Error:   kind,
		Message: err.Error(),
	})
}
