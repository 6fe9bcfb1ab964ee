package retraced

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cdr.dev/slog"
	"github.com/coder/quartz"

	"github.com/retracehq/retrace/buildinfo"
	"github.com/retracehq/retrace/retraced/activesessions"
	"github.com/retracehq/retrace/retraced/httpapi"
	"github.com/retracehq/retrace/retraced/httpmw"
	"github.com/retracehq/retrace/retraced/ingest"
	"github.com/retracehq/retrace/retraced/llm"
	"github.com/retracehq/retrace/retracesdk"
)

// Options are the parameters to start a Retrace server.
type Options struct {
	Logger slog.Logger
	// LLM answers chat requests. Required.
	LLM llm.Client
	// Clock injects time into session timers for tests.
	Clock quartz.Clock

	// WarnThreshold and HardCap bound per-session history buffers.
	WarnThreshold int
	HardCap       int
	// SessionTimeout bounds a whole exchange session.
	SessionTimeout time.Duration
	// APIRateLimit is the minutely request limit per IP. Setting it < 0
	// disables the limiter.
	APIRateLimit int
	// AllowedOrigins restricts CORS and websocket origins. Empty allows
	// every origin.
	AllowedOrigins []string

	PrometheusRegistry *prometheus.Registry
}

// API is the Retrace server assembled into an HTTP handler.
type API struct {
	*Options
	Handler http.Handler

	cancel   context.CancelFunc
	sessions *activesessions.Active
	metrics  *metrics
}

// New constructs the Retrace API. Callers must Close it to drain open
// exchange sessions.
func New(options *Options) *API {
	if options == nil {
		options = &Options{}
	}
	if options.Clock == nil {
		options.Clock = quartz.NewReal()
	}
	if options.WarnThreshold == 0 {
		options.WarnThreshold = ingest.DefaultWarnThreshold
	}
	if options.HardCap == 0 {
		options.HardCap = ingest.DefaultHardCap
	}
	if options.SessionTimeout == 0 {
		options.SessionTimeout = retracesdk.DefaultSessionTimeout
	}
	if options.APIRateLimit == 0 {
		options.APIRateLimit = 10
	}
	if options.PrometheusRegistry == nil {
		options.PrometheusRegistry = prometheus.NewRegistry()
	}

	ctx, cancel := context.WithCancel(context.Background())
	api := &API{
		Options:  options,
		cancel:   cancel,
		sessions: activesessions.New(ctx),
		metrics:  newMetrics(options.PrometheusRegistry),
	}

	r := chi.NewRouter()
	r.Use(
		httpapi.StatusWriterMiddleware,
		httpmw.AttachRequestID,
		httpmw.Recover(options.Logger),
		httpmw.Logger(options.Logger),
		httpmw.Cors(options.AllowedOrigins...),
	)
	r.Route("/api/v1", func(r chi.Router) {
		r.NotFound(func(rw http.ResponseWriter, r *http.Request) {
			httpapi.Write(r.Context(), rw, http.StatusNotFound, retracesdk.Response{
				Message: "Route not found.",
			})
		})
		r.Use(httpmw.RateLimit(options.APIRateLimit, time.Minute))
		r.Get("/", func(rw http.ResponseWriter, r *http.Request) {
			httpapi.Write(r.Context(), rw, http.StatusOK, retracesdk.Response{
				Message: "👋",
			})
		})
		r.Get("/buildinfo", func(rw http.ResponseWriter, r *http.Request) {
			httpapi.Write(r.Context(), rw, http.StatusOK, retracesdk.BuildInfoResponse{
				ExternalURL: buildinfo.ExternalURL(),
				Version:     buildinfo.Version(),
			})
		})
		r.Get("/exchange", api.exchangeSession)
	})
	r.Get("/metrics", promhttp.HandlerFor(options.PrometheusRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	api.Handler = r
	return api
}

// Close stops accepting sessions and waits for the open ones to finish.
func (api *API) Close() {
	api.cancel()
	api.sessions.Close()
}
