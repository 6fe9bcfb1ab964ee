// Package wsjson moves typed, JSON-encoded messages over a websocket.
package wsjson

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"golang.org/x/xerrors"

	"cdr.dev/slog"

	"github.com/coder/websocket"
)

// Stream reads values of type R and writes values of type W over one
// websocket connection. Once a Stream owns a connection, all reads and
// writes go through it.
type Stream[R any, W any] struct {
	conn      *websocket.Conn
	readType  websocket.MessageType
	writeType websocket.MessageType
	logger    slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	started atomic.Bool
}

func NewStream[R any, W any](conn *websocket.Conn, readType, writeType websocket.MessageType, logger slog.Logger) *Stream[R, W] {
	ctx, cancel := context.WithCancel(context.Background())
	return &Stream[R, W]{
		conn:      conn,
		readType:  readType,
		writeType: writeType,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Chan starts the read loop and returns the channel it feeds. The channel
// closes when the connection does; a read or decode failure also closes the
// connection, so the channel closing is the single end-of-stream signal.
//
// Safety: Chan must only be called once. Successive calls will panic.
func (s *Stream[R, W]) Chan() <-chan R {
	if !s.started.CompareAndSwap(false, true) {
		panic("Chan called more than once")
	}
	values := make(chan R, 1)
	go s.readLoop(values)
	return values
}

func (s *Stream[R, W]) readLoop(values chan R) {
	defer close(values)
	defer s.conn.Close(websocket.StatusGoingAway, "")
	for {
		// Read with the background context: after Close the read fails
		// with a close error, which is clearer than "context canceled".
		typ, b, err := s.conn.Read(context.Background())
		if err != nil {
			// Often just the peer hanging up, so keep it at debug.
			s.logger.Debug(s.ctx, "websocket read failed", slog.Error(err))
			return
		}
		if typ != s.readType {
			s.logger.Error(s.ctx, "unexpected websocket message type",
				slog.F("got", typ), slog.F("want", s.readType))
			return
		}
		var value R
		if err := json.Unmarshal(b, &value); err != nil {
			s.logger.Error(s.ctx, "unmarshal websocket message", slog.Error(err))
			return
		}
		select {
		case values <- value:
		case <-s.ctx.Done():
			return
		}
	}
}

// Send marshals v and writes it as one message.
func (s *Stream[R, W]) Send(v W) error {
	b, err := json.Marshal(v)
	if err != nil {
		return xerrors.Errorf("marshal message: %w", err)
	}
	if err := s.conn.Write(context.Background(), s.writeType, b); err != nil {
		return xerrors.Errorf("write message: %w", err)
	}
	return nil
}

// Close closes the connection with the given status code and stops the read
// loop.
func (s *Stream[R, W]) Close(c websocket.StatusCode) error {
	err := s.conn.Close(c, "")
	s.cancel()
	return err
}

// Drop closes the connection abruptly.
func (s *Stream[R, W]) Drop() {
	_ = s.conn.Close(websocket.StatusInternalError, "dropping connection")
	s.cancel()
}
