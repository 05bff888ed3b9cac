package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"icpquery/pkg/requestcontext"
)

// RequireAuthKey guards query endpoints with a static shared secret carried in
// the AuthKey request header. Upstream callers are other internal systems, so
// a header check is the whole authentication surface.
func RequireAuthKey(key string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get("AuthKey")
			if provided == "" {
				unauthorized(w, r, logger, "missing AuthKey header")
				return
			}
			if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
				unauthorized(w, r, logger, "invalid AuthKey")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request, logger *slog.Logger, reason string) {
	logger.WarnContext(r.Context(), "unauthorized access",
		"reason", reason,
		"path", r.URL.Path,
		"request_id", requestcontext.RequestID(r.Context()),
	)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"status":1,"error_message":"unauthorized","data":[]}`))
}
