package httpmw

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"cdr.dev/slog"
)

// RequestIDHeader carries the generated request ID back to the client so a
// failed exchange can be correlated with server logs.
const RequestIDHeader = "X-Retrace-Request-Id"

type requestIDKey struct{}

// AttachRequestID tags the request with a fresh UUID. The ID rides the
// request context, the response headers, and every log line written through
// the request's context logger.
func AttachRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		id := uuid.New()
		rw.Header().Set(RequestIDHeader, id.String())

		ctx := slog.With(
			context.WithValue(r.Context(), requestIDKey{}, id),
			slog.F("request_id", id),
		)
		next.ServeHTTP(rw, r.WithContext(ctx))
	})
}

// RequestID returns the ID attached by AttachRequestID. Calling it from a
// handler that is not behind the middleware is a programming error.
func RequestID(r *http.Request) uuid.UUID {
	id, ok := r.Context().Value(requestIDKey{}).(uuid.UUID)
	if !ok {
		panic("httpmw: handler not wrapped by AttachRequestID")
	}
	return id
}
