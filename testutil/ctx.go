package testutil

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
)

// Constants for timing out operations.
const (
	WaitShort     = 10 * time.Second
	WaitMedium    = 15 * time.Second
	WaitLong      = 25 * time.Second
	WaitSuperLong = 60 * time.Second
)

// Constants for delaying repeated operations.
const (
	IntervalFast   = 25 * time.Millisecond
	IntervalMedium = 250 * time.Millisecond
	IntervalSlow   = time.Second
)

// Context returns a context whose timeout starts counting on first use and
// is granted anew each time the context is consulted from a line of test
// code it has not seen before. Each stage of a test gets up to dur to make
// progress instead of the whole test sharing one deadline.
func Context(t *testing.T, dur time.Duration) context.Context {
	c := &stageContext{
		grant: dur,
		done:  make(chan struct{}),
		seen:  make(map[stage]struct{}),
	}
	t.Cleanup(c.finish)
	return c
}

// stage identifies one consulting line of test code.
type stage struct {
	file string
	line int
}

// stageContext implements context.Context. Consulting it from a new
// location in a test file pushes the deadline out by the configured grant.
type stageContext struct {
	grant time.Duration

	mu       sync.Mutex
	deadline time.Time
	timer    *time.Timer
	done     chan struct{}
	err      error
	seen     map[stage]struct{}
}

var _ context.Context = (*stageContext)(nil)

func (c *stageContext) Deadline() (time.Time, bool) {
	c.touch()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadline, true
}

func (c *stageContext) Done() <-chan struct{} {
	c.touch()
	return c.done
}

func (c *stageContext) Err() error {
	c.touch()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Value returns nil and does not count as use.
func (*stageContext) Value(any) any { return nil }

// touch starts the clock on first use and extends the deadline when called
// from an unseen test location. Calls that do not originate in a _test.go
// file never extend, so a stuck non-test caller cannot keep its own context
// alive.
func (c *stageContext) touch() {
	s, fromTest := testStage()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	if c.timer != nil {
		if !fromTest {
			return
		}
		if _, dup := c.seen[s]; dup {
			return
		}
	}
	if fromTest {
		c.seen[s] = struct{}{}
	}
	c.deadline = time.Now().Add(c.grant)
	if c.timer == nil {
		c.timer = time.AfterFunc(c.grant, c.expire)
		return
	}
	if c.timer.Stop() {
		c.timer.Reset(c.grant)
	}
}

func (c *stageContext) expire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = context.DeadlineExceeded
		close(c.done)
	}
}

// finish cancels the context when the test ends.
func (c *stageContext) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	if c.err == nil {
		c.err = context.Canceled
		close(c.done)
	}
}

// testStage walks the stack for the nearest _test.go frame.
func testStage() (stage, bool) {
	pc := make([]uintptr, 50)
	// Skip Callers, testStage, touch, and the context method.
	n := runtime.Callers(4, pc)
	frames := runtime.CallersFrames(pc[:n])
	for {
		frame, more := frames.Next()
		if strings.HasSuffix(frame.File, "_test.go") {
			return stage{file: frame.File, line: frame.Line}, true
		}
		if !more {
			return stage{}, false
		}
	}
}
