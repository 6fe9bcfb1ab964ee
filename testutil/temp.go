package testutil

import (
	"os"
	"runtime"
	"testing"
)

// TempDir wraps t.TempDir for tests that open sqlite databases inside it.
// On Windows the driver can hold the file briefly after Close, which makes
// the stock cleanup flaky, so removal retries before t.TempDir gets its
// turn.
func TempDir(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	if runtime.GOOS != "windows" {
		return dir
	}
	t.Cleanup(func() {
		var err error
		for i := 0; i < 50; i++ {
			if err = os.RemoveAll(dir); err == nil {
				return
			}
		}
		t.Logf("TempDir: remove %q: %v", dir, err)
	})
	return dir
}
