package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"net/http"

	"github.com/retracehq/retrace/retracesdk"
)

// Write outputs a standardized format to an HTTP response body.
func Write(ctx context.Context, rw http.ResponseWriter, status int, response any) {
	// Pretty up JSON when testing.
	if flag.Lookup("test.v") != nil {
		WriteIndent(ctx, rw, status, response)
		return
	}

	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(true)
	err := enc.Encode(response)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}

	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	_, _ = rw.Write(buf.Bytes())
}

func WriteIndent(_ context.Context, rw http.ResponseWriter, status int, response any) {
	buf, err := json.MarshalIndent(response, "", "\t")
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}

	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	_, _ = rw.Write(buf)
}

// InternalServerError writes a generic 500. The error detail is included in
// the response, so don't pass anything secret.
func InternalServerError(rw http.ResponseWriter, err error) {
	var details string
	if err != nil {
		details = err.Error()
	}
	Write(context.Background(), rw, http.StatusInternalServerError, retracesdk.Response{
		Message: "An internal server error occurred.",
		Detail:  details,
	})
}

