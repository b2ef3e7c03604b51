package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// DefaultAllowedOrigins is the Angular dev server.
var DefaultAllowedOrigins = []string{"http://localhost:4200"}

// CORS allows the listed browser origins to call the API with
// credentials. An empty list falls back to DefaultAllowedOrigins.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
