package httpserver

import (
	"context"
	"net/http"
	"strings"

	"github.com/YodaheaD/assetintel/pkg/identity"
	"github.com/YodaheaD/assetintel/pkg/tenant"
)

// Auth resolves the X-API-Key header to a tenant identity and stores it in
// the request context. Requests without a valid key are rejected with 401
// before reaching any domain handler — spec.md §6 treats the Identity
// provider boundary as authenticating every /api/v1 route.
func Auth(resolver identity.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get("X-API-Key"))
			if key == "" {
				RespondError(w, http.StatusUnauthorized, "unauthorized", "missing X-API-Key header")
				return
			}

			info, err := resolver.Resolve(r.Context(), key)
			if err != nil {
				RespondError(w, http.StatusUnauthorized, "unauthorized", "invalid API key")
				return
			}

			ctx := tenant.NewContext(r.Context(), info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type adminContextKey string

const adminKeyOK adminContextKey = "admin_ok"

// AdminAuth gates admin endpoints per spec.md §6: 404 when the admin surface
// is disabled globally, 403 when the supplied X-Admin-Key doesn't match.
func AdminAuth(enabled bool, adminKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				RespondError(w, http.StatusNotFound, "not_found", "admin surface disabled")
				return
			}
			got := r.Header.Get("X-Admin-Key")
			if got == "" || got != adminKey {
				RespondError(w, http.StatusForbidden, "forbidden", "invalid X-Admin-Key")
				return
			}
			ctx := context.WithValue(r.Context(), adminKeyOK, true)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
