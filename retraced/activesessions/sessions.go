package activesessions

import (
	"context"
	"net/http"
	"runtime/pprof"
	"sync"

	"github.com/coder/websocket"

	"github.com/retracehq/retrace/retraced/httpapi"
	"github.com/retracehq/retrace/retracesdk"
)

// Active tracks the exchange sessions currently open on a server. All of
// their connections close when the parent context is canceled.
type Active struct {
	ctx    context.Context
	cancel func()

	wg sync.WaitGroup
}

func New(ctx context.Context) *Active {
	ctx, cancel := context.WithCancel(ctx)
	return &Active{
		ctx:    ctx,
		cancel: cancel,
	}
}

// Accept upgrades the request to a websocket and calls f with the
// connection. The session counts toward the tracker until f returns, and its
// connection is closed when the parent context is canceled.
func (a *Active) Accept(rw http.ResponseWriter, r *http.Request, options *websocket.AcceptOptions, f func(conn *websocket.Conn)) {
	// Refuse new sessions while shutting down.
	if err := a.ctx.Err(); err != nil {
		httpapi.Write(context.Background(), rw, http.StatusServiceUnavailable, retracesdk.Response{
			Message: "No longer accepting exchange sessions.",
			Detail:  err.Error(),
		})
		return
	}
	a.wg.Add(1)
	defer a.wg.Done()

	conn, err := websocket.Accept(rw, r, options)
	if err != nil {
		httpapi.Write(context.Background(), rw, http.StatusBadRequest, retracesdk.Response{
			Message: "Failed to accept websocket.",
			Detail:  err.Error(),
		})
		return
	}
	// Track the connection before handing it to the caller so shutdown
	// closes it even if f never observes the context.
	ctx, cancel := context.WithCancel(a.ctx)
	defer cancel()
	closeConnOnContext(ctx, conn)

	f(conn)
}

// closeConnOnContext watches the context and closes the connection when it
// is canceled.
func closeConnOnContext(ctx context.Context, conn *websocket.Conn) {
	// Labeled for goroutine dumps.
	go pprof.Do(ctx, pprof.Labels("service", "ActiveExchangeSessions"), func(ctx context.Context) {
		<-ctx.Done()
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	})
}

// Close closes all active connections and waits for their handlers to
// return.
func (a *Active) Close() {
	a.cancel()
	a.wg.Wait()
}
