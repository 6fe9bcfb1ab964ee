package cli_test

import (
	"context"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/retracehq/retrace/buildinfo"
	"github.com/retracehq/retrace/cli"
	"github.com/retracehq/retrace/retracesdk"
	"github.com/retracehq/retrace/testutil"
)

// reservePort grabs a free loopback port and releases it for the server to
// bind. The window between close and rebind is small enough for tests.
func reservePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestServer(t *testing.T) {
	t.Parallel()

	addr := reservePort(t)
	ctx := testutil.Context(t, testutil.WaitLong)
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var root cli.RootCmd
	inv := root.Command().Invoke(
		"server",
		"--address", addr,
		"--openai-api-key", "test-key",
		"--api-rate-limit=-1",
	)
	inv.Stdout = io.Discard
	inv.Stderr = io.Discard

	errCh := make(chan error, 1)
	testutil.Go(t, func() {
		errCh <- inv.WithContext(runCtx).Run()
	})

	var info retracesdk.BuildInfoResponse
	testutil.RequireEventuallyResponseOK(ctx, t, "http://"+addr+"/api/v1/buildinfo", &info)
	require.Equal(t, buildinfo.Version(), info.Version)

	// Canceling the invocation context takes the graceful shutdown path.
	cancelRun()
	err := testutil.RequireReceive(ctx, t, errCh)
	require.NoError(t, err)
}

func TestServer_MissingAPIKey(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitShort)

	var root cli.RootCmd
	inv := root.Command().Invoke("server", "--address", "127.0.0.1:0")
	inv.Stdout = io.Discard
	inv.Stderr = io.Discard
	err := inv.WithContext(ctx).Run()
	require.ErrorContains(t, err, "API key")
}
