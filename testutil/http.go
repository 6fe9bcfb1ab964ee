package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

// RequireEventuallyResponseOK polls endpoint with GET until it answers 200
// with a JSON body that decodes into target, failing the test when ctx runs
// out. Useful while a test server's routes warm up.
func RequireEventuallyResponseOK(ctx context.Context, t testing.TB, endpoint string, target any) {
	t.Helper()

	ok := Eventually(ctx, t, func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return false
		}
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			return false
		}
		defer res.Body.Close()
		if res.StatusCode != http.StatusOK {
			return false
		}
		return json.NewDecoder(res.Body).Decode(target) == nil
	}, IntervalFast)
	require.True(t, ok, "endpoint %s did not become ready", endpoint)
}
