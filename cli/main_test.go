package cli_test

import (
	"testing"

	"go.uber.org/goleak"

	"github.com/retracehq/retrace/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, testutil.GoleakOptions...)
}
