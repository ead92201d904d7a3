package middleware

import (
	"log/slog"
	"net/http"

	"github.com/TP-Master1-GL/TERRABIA/pkg/logger"
)

// RequestLogger stores a logger enriched with correlation, session, user and
// trace identifiers in the request context; handlers fetch it with
// logger.FromContext. Mount it after RequestLogging, Tracing and whatever
// middleware resolves the browser session.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
