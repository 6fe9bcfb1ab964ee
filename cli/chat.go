package cli

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/xerrors"

	"cdr.dev/slog"

	"github.com/coder/retry"
	"github.com/coder/serpent"

	"github.com/retracehq/retrace/retracesdk"
	"github.com/retracehq/retrace/retracesdk/history"
)

func (r *RootCmd) chat() *serpent.Command {
	var (
		historyDB  string
		maxEntries int64
		batchSize  int64
		since      time.Duration
		relevant   bool
		retries    int64
	)

	cmd := &serpent.Command{
		Use:   "chat <message>",
		Short: "Upload your browsing history and ask a question about it",
		Middleware: serpent.Chain(
			serpent.RequireNArgs(1),
		),
		Handler: func(inv *serpent.Invocation) error {
			ctx := inv.Context()
			logger := r.initLogger(inv)
			client := r.initClient(logger)
			message := inv.Args[0]

			source, err := history.OpenChromium(historyDB)
			if err != nil {
				return xerrors.Errorf("open history database: %w", err)
			}
			defer source.Close()

			enumerator := &history.Enumerator{
				Source: source,
				Logger: logger.Named("history"),
			}
			// Runs once per exchange attempt. A restarted exchange gets a
			// fresh snapshot, not a resumed one.
			enumerate := func(ctx context.Context) (retracesdk.RecordSet, error) {
				var window history.Window
				if since > 0 {
					now := time.Now()
					window = history.Window{Start: now.Add(-since), End: now}
				}
				set, err := enumerator.Enumerate(ctx, int(maxEntries), window)
				if err != nil {
					return nil, xerrors.Errorf("enumerate history: %w", err)
				}
				if relevant {
					set = history.Rank(set, message, time.Now())
				}
				logger.Info(ctx, "history enumerated",
					slog.F("entries", len(set)),
					slog.F("ranked", relevant),
				)
				return set, nil
			}

			reply, err := runExchange(ctx, logger, client, enumerate, message, &retracesdk.ExchangeOptions{
				BatchSize: int(batchSize),
			}, int(retries))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(inv.Stdout, reply)
			return nil
		},
		Options: serpent.OptionSet{
			{
				Name:        "history-db",
				Flag:        "history-db",
				Env:         "RETRACE_HISTORY_DB",
				Description: "Path to a Chromium History sqlite database. Point it at a copy if the browser is running.",
				Default:     history.DefaultChromiumPath(),
				Value:       serpent.StringOf(&historyDB),
			},
			{
				Name:        "max-entries",
				Flag:        "max-entries",
				Env:         "RETRACE_MAX_ENTRIES",
				Description: "Maximum number of history entries to enumerate and upload.",
				Default:     "20000",
				Value:       serpent.Int64Of(&maxEntries),
			},
			{
				Name:        "batch-size",
				Flag:        "batch-size",
				Env:         "RETRACE_BATCH_SIZE",
				Description: "Number of history entries per upload batch.",
				Default:     "500",
				Value:       serpent.Int64Of(&batchSize),
			},
			{
				Name:        "since",
				Flag:        "since",
				Env:         "RETRACE_SINCE",
				Description: "Only enumerate history newer than this duration. Zero enumerates everything.",
				Default:     "0",
				Value:       serpent.DurationOf(&since),
			},
			{
				Name:        "relevant",
				Flag:        "relevant",
				Env:         "RETRACE_RELEVANT",
				Description: "Rank the enumerated history by relevance to the question before uploading.",
				Value:       serpent.BoolOf(&relevant),
			},
			{
				Name:        "retry",
				Flag:        "retry",
				Env:         "RETRACE_RETRY",
				Description: "Restart a failed exchange up to this many times. A restart begins over from enumeration; nothing resumes.",
				Default:     "0",
				Value:       serpent.Int64Of(&retries),
			},
		},
	}

	return cmd
}

// runExchange drives one complete exchange, restarting from enumeration on
// connection and timeout failures while retries remain. Upstream failures are
// terminal: the server answered, retrying locally cannot change it.
func runExchange(ctx context.Context, logger slog.Logger, client *retracesdk.Client, enumerate func(context.Context) (retracesdk.RecordSet, error), message string, options *retracesdk.ExchangeOptions, retries int) (string, error) {
	var lastErr error
	backoff := retry.New(time.Second, 10*time.Second)
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			logger.Warn(ctx, "exchange failed, restarting",
				slog.F("attempt", attempt),
				slog.Error(lastErr),
			)
			if !backoff.Wait(ctx) {
				return "", lastErr
			}
		}

		set, err := enumerate(ctx)
		if err != nil {
			// Enumeration only fails on cancellation; the loop is done.
			return "", err
		}
		exchange, err := client.DialExchange(ctx, options)
		if err != nil {
			lastErr = err
			continue
		}
		reply, err := exchange.Run(ctx, set, message, nil)
		if err != nil {
			var exErr *retracesdk.ExchangeError
			if xerrors.As(err, &exErr) && exErr.Kind == retracesdk.ExchangeErrorUpstream {
				return "", err
			}
			lastErr = err
			continue
		}
		return reply, nil
	}
	return "", lastErr
}
