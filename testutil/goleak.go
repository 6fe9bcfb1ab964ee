package testutil

import "go.uber.org/goleak"

// GoleakOptions is a common list of options to pass to goleak. This is useful
// if there is a known goroutine leak that is not yet fixed, and we want to
// exclude it from the goleak check.
var GoleakOptions []goleak.Option
