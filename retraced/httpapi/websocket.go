package httpapi

import (
	"context"
	"time"

	"github.com/coder/websocket"
)

// HeartbeatInterval is less than the idle connection timeouts of common
// load balancers, which default to around 60 seconds.
const HeartbeatInterval = 15 * time.Second

// Heartbeat loops to ping a WebSocket to keep it alive. It returns when the
// context ends or a ping fails.
func Heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		err := conn.Ping(ctx)
		if err != nil {
			return
		}
	}
}
