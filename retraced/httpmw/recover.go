package httpmw

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"

	"cdr.dev/slog"

	"github.com/retracehq/retrace/retraced/httpapi"
)

// Recover converts handler panics into 500 responses and a warning log
// instead of tearing down the connection's serve goroutine.
func Recover(log slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				// net/http aborts a response on purpose by panicking
				// with this sentinel. Let it through.
				if err, ok := v.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(v)
				}

				log.Warn(context.Background(), "recovered from handler panic",
					slog.F("panic", v),
					slog.F("stack", string(debug.Stack())),
				)

				// A hijacked connection no longer speaks HTTP, so there
				// is nowhere to write the error.
				if sw, ok := rw.(*httpapi.StatusWriter); ok && sw.Hijacked {
					return
				}
				httpapi.InternalServerError(rw, nil)
			}()

			next.ServeHTTP(rw, r)
		})
	}
}
