package httpmw

import (
	"net/http"

	"github.com/go-chi/cors"
)

// Cors sets the CORS headers for the API. Browser-extension clients call
// from extension origins, so with no explicit origins everything is allowed.
func Cors(allowedOrigins ...string) func(http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	})
}
