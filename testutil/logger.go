package testutil

import (
	"context"
	"testing"

	"golang.org/x/xerrors"

	"cdr.dev/slog"
	"cdr.dev/slog/sloggers/slogtest"
)

// Logger returns a debug-leveled test logger that tolerates logged
// cancellation errors, which would otherwise flake tests that tear down
// mid-operation.
func Logger(t testing.TB) slog.Logger {
	return slogtest.Make(
		t, &slogtest.Options{IgnoreErrorFn: ignoreLoggedError},
	).Leveled(slog.LevelDebug)
}

func ignoreLoggedError(entry slog.SinkEntry) bool {
	err, ok := slogtest.FindFirstError(entry)
	if !ok {
		return false
	}
	return xerrors.Is(err, context.Canceled) || xerrors.Is(err, context.DeadlineExceeded)
}
