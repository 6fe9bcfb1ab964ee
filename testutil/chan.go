package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// RequireReceive receives a value from c and returns it, failing the test if
// the context expires or the channel closes first.
//
// Safety: must be called from the goroutine that created t.
func RequireReceive[T any](ctx context.Context, t testing.TB, c <-chan T) T {
	t.Helper()
	var zero T
	select {
	case <-ctx.Done():
		require.Fail(t, "RequireReceive: context expired")
		return zero
	case v, ok := <-c:
		if !ok {
			require.Fail(t, "RequireReceive: channel closed")
		}
		return v
	}
}

// TryReceive is RequireReceive for channels whose closing is an acceptable
// outcome: a closed channel yields the zero value instead of a failure.
//
// Safety: must be called from the goroutine that created t.
func TryReceive[T any](ctx context.Context, t testing.TB, c <-chan T) T {
	t.Helper()
	var zero T
	select {
	case <-ctx.Done():
		require.Fail(t, "TryReceive: context expired")
		return zero
	case v := <-c:
		return v
	}
}
