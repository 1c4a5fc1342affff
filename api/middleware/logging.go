package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/paysaga-backend/pkg/logger"
)

// Logging binds method and path to the request's log context and writes one
// access line when the handler returns. Health probes are not logged.
func Logging(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if logg == nil || isProbe(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			ctx := logg.WithFields(r.Context(), map[string]any{
				"method": r.Method,
				"path":   r.URL.Path,
			})
			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()

			next.ServeHTTP(rec, r.WithContext(ctx))

			fields := map[string]any{
				"status":      rec.code(),
				"bytes":       rec.bytes,
				"duration_ms": time.Since(start).Milliseconds(),
			}
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				fields["route"] = rctx.RoutePattern()
			}
			logg.Info(logg.WithFields(ctx, fields), "http request")
		})
	}
}

func isProbe(path string) bool {
	return path == "/health/live" || path == "/health/ready"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func (r *statusRecorder) code() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}
