package retracesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/xerrors"

	"cdr.dev/slog"
)

// New creates a Retrace client for the provided server URL.
func New(serverURL *url.URL) *Client {
	return &Client{
		URL:        serverURL,
		HTTPClient: &http.Client{},
	}
}

// Client is an HTTP caller for the Retrace API. The same client dials the
// websocket exchange endpoint.
type Client struct {
	URL        *url.URL
	HTTPClient *http.Client

	// Logger is optionally provided to log requests.
	Logger slog.Logger

	// LogBodies can be enabled to print request and response bodies to the
	// logger.
	LogBodies bool
}

// RequestOption is a function that can modify an http.Request before it is
// sent.
type RequestOption func(*http.Request)

// Request performs a HTTP request with the body provided. The caller is
// responsible for closing the response body.
func (c *Client) Request(ctx context.Context, method, path string, body interface{}, opts ...RequestOption) (*http.Response, error) {
	serverURL, err := c.URL.Parse(path)
	if err != nil {
		return nil, xerrors.Errorf("parse url: %w", err)
	}

	var r io.Reader
	if body != nil {
		switch data := body.(type) {
		case io.Reader:
			r = data
		case []byte:
			r = bytes.NewReader(data)
		default:
			buf, err := json.Marshal(body)
			if err != nil {
				return nil, xerrors.Errorf("marshal request body: %w", err)
			}
			if c.LogBodies {
				c.Logger.Debug(ctx, "marshaled request body", slog.F("body", string(buf)))
			}
			r = bytes.NewReader(buf)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, serverURL.String(), r)
	if err != nil {
		return nil, xerrors.Errorf("create request: %w", err)
	}
	if r != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, opt := range opts {
		opt(req)
	}

	c.Logger.Debug(ctx, "sdk request", slog.F("method", req.Method), slog.F("url", req.URL.String()))
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, xerrors.Errorf("do request: %w", err)
	}
	return resp, nil
}

// Response represents a generic HTTP response.
type Response struct {
	// Message is an actionable message that depicts actions the request took.
	// These messages should be fully formed sentences with proper punctuation.
	Message string `json:"message"`
	// Detail is a debug message that provides further insight into why the
	// action failed.
	Detail string `json:"detail,omitempty"`
}

// Error represents an unaccepted or invalid request to the API.
type Error struct {
	Response

	statusCode int
	method     string
	url        string
}

// StatusCode returns the status code of the response that produced the
// error.
func (e *Error) StatusCode() int {
	return e.statusCode
}

func (e *Error) Error() string {
	var builder strings.Builder
	if e.method != "" && e.url != "" {
		_, _ = fmt.Fprintf(&builder, "%v %v: ", e.method, e.url)
	}
	_, _ = fmt.Fprintf(&builder, "unexpected status code %d: %s", e.statusCode, e.Message)
	if e.Detail != "" {
		_, _ = fmt.Fprintf(&builder, "\n\tError: %s", e.Detail)
	}
	return builder.String()
}

// ReadBodyAsError reads the response as a Response and wraps it in an
// *Error for easy unwrapping at call sites.
func ReadBodyAsError(res *http.Response) error {
	if res == nil {
		return xerrors.New("no body returned")
	}
	defer res.Body.Close()

	var requestMethod, requestURL string
	if res.Request != nil {
		requestMethod = res.Request.Method
		if res.Request.URL != nil {
			requestURL = res.Request.URL.String()
		}
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return xerrors.Errorf("read body: %w", err)
	}

	mimeType := parseMimeType(res.Header.Get("Content-Type"))
	if mimeType != "application/json" {
		if len(body) == 0 {
			body = []byte("no response body")
		}
		return &Error{
			statusCode: res.StatusCode,
			method:     requestMethod,
			url:        requestURL,
			Response: Response{
				Message: fmt.Sprintf("unexpected non-JSON response %q", mimeType),
				Detail:  string(body),
			},
		}
	}

	var m Response
	err = json.Unmarshal(body, &m)
	if err != nil {
		if xerrors.Is(err, io.EOF) {
			return &Error{
				statusCode: res.StatusCode,
				method:     requestMethod,
				url:        requestURL,
				Response: Response{
					Message: "empty response body",
				},
			}
		}
		return xerrors.Errorf("decode body: %w", err)
	}

	return &Error{
		Response:   m,
		statusCode: res.StatusCode,
		method:     requestMethod,
		url:        requestURL,
	}
}

func parseMimeType(contentType string) string {
	mimeType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mimeType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	return mimeType
}

// BuildInfoResponse contains build information for an instance of Retrace.
type BuildInfoResponse struct {
	// ExternalURL is a URL referencing the current Retrace version. For
	// production builds, this will link directly to a release. For development
	// builds, this will link to a commit.
	ExternalURL string `json:"external_url"`
	// Version returns the semantic version of the build.
	Version string `json:"version"`
}

// BuildInfo returns build information for the server the client points at.
func (c *Client) BuildInfo(ctx context.Context) (BuildInfoResponse, error) {
	res, err := c.Request(ctx, http.MethodGet, "/api/v1/buildinfo", nil)
	if err != nil {
		return BuildInfoResponse{}, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return BuildInfoResponse{}, ReadBodyAsError(res)
	}

	var buildInfo BuildInfoResponse
	return buildInfo, json.NewDecoder(res.Body).Decode(&buildInfo)
}
