package httpmw

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/retracehq/retrace/retraced/httpapi"
	"github.com/retracehq/retrace/retracesdk"
)

// RateLimit throttles requests per IP within the window. A count <= 0
// disables the limiter.
func RateLimit(count int, window time.Duration) func(http.Handler) http.Handler {
	if count <= 0 {
		return func(handler http.Handler) http.Handler {
			return handler
		}
	}
	return httprate.Limit(
		count,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpapi.Write(r.Context(), w, http.StatusTooManyRequests, retracesdk.Response{
				Message: "You've been rate limited for sending too many requests!",
			})
		}),
	)
}
