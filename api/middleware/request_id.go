package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/paysaga-backend/pkg/logger"
)

const (
	requestIDHeader = "X-Request-Id"
	maxRequestIDLen = 128
)

// RequestID propagates a caller-supplied X-Request-Id or mints one, echoes it
// on the response and binds it to the request's log context.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := strings.TrimSpace(r.Header.Get(requestIDHeader))
			if !validRequestID(reqID) {
				reqID = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, reqID)

			ctx := r.Context()
			if logg != nil {
				ctx = logg.WithRequestID(ctx, reqID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// validRequestID accepts printable ASCII without spaces up to maxRequestIDLen.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] <= ' ' || id[i] > '~' {
			return false
		}
	}
	return true
}
