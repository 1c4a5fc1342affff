package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS returns middleware that applies the configured allowed origin policy.
func CORS(origins []string) func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "Idempotent-Replayed"},
		AllowCredentials: false,
		MaxAge:           300,
	}).Handler
}
