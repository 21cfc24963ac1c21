package gateway

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/harun/agentrelay/internal/tracing"
	"github.com/rs/zerolog"
)

const traceHeader = "X-Trace-Id"

// traceRequest seeds the request context with trace and request ids and logs
// the request once it completes
func traceRequest(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := r.Header.Get(traceHeader)
			if traceID == "" {
				traceID = tracing.NewTraceID()
			}
			ctx := tracing.WithTraceID(r.Context(), traceID)
			ctx = tracing.WithRequestID(ctx, middleware.GetReqID(r.Context()))
			w.Header().Set(traceHeader, traceID)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r.WithContext(ctx))

			reqLogger := tracing.LoggerFromContext(ctx, logger)
			reqLogger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("HTTP request")
		})
	}
}
