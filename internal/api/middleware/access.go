package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/confide/internal/access"
	"github.com/eldtechnologies/confide/internal/metrics"
)

// RequireAccess checks the {id} path segment against gate and redirects to
// denyTo when it does not grant access. The wrapped handler never runs on deny.
func RequireAccess(gate access.Gate, denyTo string, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !gate.Allow(r.Context(), chi.URLParam(r, "id")) {
				metrics.AccessDenied.Inc()
				logger.Warn().
					Str("type", "security").
					Str("event", "access_denied").
					Str("ip", ClientIP(r)).
					Str("path", r.URL.Path).
					Msg("listing access denied")
				http.Redirect(w, r, denyTo, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
