package testutil_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/retracehq/retrace/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, testutil.GoleakOptions...)
}

func TestEventually_Succeeds(t *testing.T) {
	t.Parallel()

	ctx := testutil.Context(t, testutil.WaitShort)
	attempts := 0
	ok := testutil.Eventually(ctx, t, func(_ context.Context) bool {
		attempts++
		return attempts >= 3
	}, testutil.IntervalFast)
	require.True(t, ok)
	require.Equal(t, 3, attempts)
}

func TestEventually_Timeout(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), testutil.IntervalMedium)
	defer cancel()
	mockT := new(testing.T)
	ok := testutil.Eventually(ctx, mockT, func(_ context.Context) bool {
		return false
	}, testutil.IntervalFast)
	require.False(t, ok)
	require.True(t, mockT.Failed())
}

func TestEventually_RequiresDeadline(t *testing.T) {
	t.Parallel()

	require.Panics(t, func() {
		testutil.Eventually(context.Background(), new(testing.T), func(_ context.Context) bool {
			return true
		}, testutil.IntervalFast)
	})
}

func TestEventually_Convenience(t *testing.T) {
	t.Parallel()

	require.True(t, testutil.EventuallyShort(t, func(_ context.Context) bool { return true }))
	require.True(t, testutil.EventuallyMedium(t, func(_ context.Context) bool { return true }))
	require.True(t, testutil.EventuallyLong(t, func(_ context.Context) bool { return true }))
}
