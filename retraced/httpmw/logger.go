package httpmw

import (
	"fmt"
	"net/http"
	"time"

	"cdr.dev/slog"

	"github.com/retracehq/retrace/retraced/httpapi"
)

// Logger writes one structured line per completed request. Server-side
// failures carry the response body so they can be debugged without a
// client capture.
func Logger(log slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			sw, ok := rw.(*httpapi.StatusWriter)
			if !ok {
				panic(fmt.Sprintf("httpmw: Logger requires a *httpapi.StatusWriter, got %T", rw))
			}

			start := time.Now()
			next.ServeHTTP(sw, r)
			elapsed := time.Since(start)

			// Readiness polls at 200 would drown out everything else.
			if r.URL.Path == "/api/v1/buildinfo" && sw.Status == http.StatusOK {
				return
			}

			entry := log.With(
				slog.F("method", r.Method),
				slog.F("path", r.URL.Path),
				slog.F("remote_addr", r.RemoteAddr),
				slog.F("status", sw.Status),
				slog.F("elapsed", elapsed),
			)
			if sw.Status >= http.StatusInternalServerError {
				// Upstream model failures surface as 5xx too, so these stay
				// at warn rather than error.
				entry.Warn(r.Context(), "request failed",
					slog.F("response_body", string(sw.ResponseBody())),
				)
				return
			}
			entry.Debug(r.Context(), "request served")
		})
	}
}
