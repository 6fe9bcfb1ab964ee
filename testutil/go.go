package testutil

import "testing"

// Go runs fn in a goroutine and blocks test cleanup until it returns, so a
// stuck fn hangs the test visibly instead of leaking. The returned channel
// closes when fn returns, for callers that want to wait earlier.
func Go(t *testing.T, fn func()) <-chan struct{} {
	t.Helper()

	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	t.Cleanup(func() {
		<-done
	})
	return done
}
