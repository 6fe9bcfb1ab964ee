package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/xerrors"

	"cdr.dev/slog"

	"github.com/coder/serpent"

	"github.com/retracehq/retrace/buildinfo"
	"github.com/retracehq/retrace/retraced"
	"github.com/retracehq/retrace/retraced/llm"
)

func (r *RootCmd) server() *serpent.Command {
	var (
		address        string
		openAIKey      string
		openAIBaseURL  string
		openAIModel    string
		warnThreshold  int64
		hardCap        int64
		sessionTimeout time.Duration
		rateLimit      int64
		allowedOrigins []string
	)

	cmd := &serpent.Command{
		Use:   "server",
		Short: "Start a Retrace server",
		Middleware: serpent.Chain(
			serpent.RequireNArgs(0),
		),
		Handler: func(inv *serpent.Invocation) error {
			ctx, stop := signal.NotifyContext(inv.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := r.initLogger(inv)

			llmClient, err := llm.NewOpenAI(llm.OpenAIOptions{
				APIKey:  openAIKey,
				BaseURL: openAIBaseURL,
				Model:   openAIModel,
			})
			if err != nil {
				return err
			}

			api := retraced.New(&retraced.Options{
				Logger:         logger.Named("retraced"),
				LLM:            llmClient,
				WarnThreshold:  int(warnThreshold),
				HardCap:        int(hardCap),
				SessionTimeout: sessionTimeout,
				APIRateLimit:   int(rateLimit),
				AllowedOrigins: allowedOrigins,
			})
			defer api.Close()

			listener, err := net.Listen("tcp", address)
			if err != nil {
				return xerrors.Errorf("listen on %q: %w", address, err)
			}
			defer func() {
				_ = listener.Close()
			}()

			server := &http.Server{
				Handler:           api.Handler,
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Serve(listener)
			}()

			logger.Info(ctx, "retrace server started",
				slog.F("address", listener.Addr().String()),
				slog.F("version", buildinfo.Version()),
			)

			select {
			case <-ctx.Done():
				logger.Info(ctx, "interrupt caught, gracefully exiting")
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return xerrors.Errorf("serve: %w", err)
				}
				return nil
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn(ctx, "http server shutdown", slog.Error(err))
			}
			// Shutdown does not wait for hijacked connections; closing the
			// API ends the open exchange sessions.
			api.Close()
			return nil
		},
		Options: serpent.OptionSet{
			{
				Name:          "address",
				Flag:          "address",
				FlagShorthand: "a",
				Env:           "RETRACE_ADDRESS",
				Description:   "Bind address of the server.",
				Default:       "127.0.0.1:8080",
				Value:         serpent.StringOf(&address),
			},
			{
				Name:        "openai-api-key",
				Flag:        "openai-api-key",
				Env:         "OPENAI_API_KEY",
				Description: "API key used to answer chat requests.",
				Value:       serpent.StringOf(&openAIKey),
			},
			{
				Name:        "openai-base-url",
				Flag:        "openai-base-url",
				Env:         "RETRACE_OPENAI_BASE_URL",
				Description: "Base URL of an OpenAI-compatible API. Empty uses the OpenAI default.",
				Value:       serpent.StringOf(&openAIBaseURL),
			},
			{
				Name:        "openai-model",
				Flag:        "openai-model",
				Env:         "RETRACE_OPENAI_MODEL",
				Description: "Model used to answer chat requests.",
				Default:     llm.DefaultModel,
				Value:       serpent.StringOf(&openAIModel),
			},
			{
				Name:        "warn-threshold",
				Flag:        "warn-threshold",
				Env:         "RETRACE_WARN_THRESHOLD",
				Description: "Per-session history count past which batch acks carry a warning.",
				Default:     "50000",
				Value:       serpent.Int64Of(&warnThreshold),
			},
			{
				Name:        "hard-cap",
				Flag:        "hard-cap",
				Env:         "RETRACE_HARD_CAP",
				Description: "Per-session history buffer bound. Records past it are counted but not retained.",
				Default:     "100000",
				Value:       serpent.Int64Of(&hardCap),
			},
			{
				Name:        "session-timeout",
				Flag:        "session-timeout",
				Env:         "RETRACE_SESSION_TIMEOUT",
				Description: "Absolute bound on a whole exchange session.",
				Default:     "5m",
				Value:       serpent.DurationOf(&sessionTimeout),
			},
			{
				Name:        "api-rate-limit",
				Flag:        "api-rate-limit",
				Env:         "RETRACE_API_RATE_LIMIT",
				Description: "Maximum number of requests per minute allowed to the API per IP. Negative values disable the limit.",
				Default:     "10",
				Value:       serpent.Int64Of(&rateLimit),
			},
			{
				Name:        "allowed-origins",
				Flag:        "allowed-origins",
				Env:         "RETRACE_ALLOWED_ORIGINS",
				Description: "Origins allowed on the API and the exchange websocket. Empty allows every origin.",
				Value:       serpent.StringArrayOf(&allowedOrigins),
			},
		},
	}

	return cmd
}
