package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS allows browser calls from origins. Credentials are allowed, so a
// wildcard origin is never used.
func CORS(origins []string) func(http.Handler) http.Handler {
	policy := cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
			IdempotencyHeader,
			requestIDHeader,
		},
		ExposedHeaders:   []string{requestIDHeader, ReplayedHeader, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           600,
	}
	return cors.Handler(policy)
}
