package httpapi

import (
	"bufio"
	"net"
	"net/http"

	"golang.org/x/xerrors"
)

var _ http.ResponseWriter = (*StatusWriter)(nil)

// StatusWriter intercepts the status of the request and the response body up
// to maxBodySize if Status >= 400. The body is not captured for server-sent
// events or hijacked connections.
type StatusWriter struct {
	http.ResponseWriter
	Status   int
	Hijacked bool

	wroteHeader  bool
	responseBody []byte
}

// StatusWriterMiddleware wraps every response writer so downstream
// middleware can read the status and error bodies after the handler ran.
func StatusWriterMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		sw := &StatusWriter{ResponseWriter: rw}
		next.ServeHTTP(sw, r)
	})
}

const maxBodySize = 4096

func (w *StatusWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.Status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *StatusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.Status = http.StatusOK
		w.wroteHeader = true
	}
	if w.Status >= http.StatusBadRequest && w.responseBody == nil {
		// Only the first write is captured; error responses are written
		// in one shot and anything longer is truncated anyway.
		n := len(b)
		if n > maxBodySize {
			n = maxBodySize
		}
		w.responseBody = make([]byte, n)
		copy(w.responseBody, b)
	}
	return w.ResponseWriter.Write(b)
}

func (w *StatusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, xerrors.Errorf("%T is not a http.Hijacker", w.ResponseWriter)
	}
	w.Hijacked = true
	return hijacker.Hijack()
}

func (w *StatusWriter) ResponseBody() []byte {
	return w.responseBody
}

func (w *StatusWriter) Flush() {
	f, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		f.Flush()
	}
}

func (w *StatusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
