package cli_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coder/serpent"

	"github.com/retracehq/retrace/buildinfo"
	"github.com/retracehq/retrace/cli"
	"github.com/retracehq/retrace/testutil"
)

func TestVersion(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitShort)

	var root cli.RootCmd
	inv := root.Command().Invoke("version")
	stdout := &bytes.Buffer{}
	inv.Stdout = stdout
	err := inv.WithContext(ctx).Run()
	require.NoError(t, err)
	require.Contains(t, stdout.String(), "Retrace "+buildinfo.Version())
	require.Contains(t, stdout.String(), buildinfo.ExternalURL())
}

// Every command needs a handler and a help handler, or it has no default
// behavior at all.
func TestCommandHandlers(t *testing.T) {
	t.Parallel()

	var root cli.RootCmd
	root.Command().Walk(func(cmd *serpent.Command) {
		require.NotNilf(t, cmd.Handler, "command %q has no handler", cmd.Name())
		require.NotNilf(t, cmd.HelpHandler, "command %q has no help handler", cmd.Name())
	})
}
