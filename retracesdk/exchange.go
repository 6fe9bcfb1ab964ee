package retracesdk

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/xerrors"

	"cdr.dev/slog"

	"github.com/coder/quartz"
	"github.com/coder/websocket"

	"github.com/retracehq/retrace/retracesdk/wsjson"
)

// MessageType tags every message exchanged over an exchange connection.
type MessageType string

const (
	MessageTypeConnected         MessageType = "connected"
	MessageTypeHistoryBatch      MessageType = "history_batch"
	MessageTypeHistoryBatchAck   MessageType = "history_batch_ack"
	MessageTypeUploadComplete    MessageType = "history_upload_complete"
	MessageTypeUploadCompleteAck MessageType = "history_upload_complete_ack"
	MessageTypeChat              MessageType = "chat"
	MessageTypeChatQueued        MessageType = "chat_queued"
	MessageTypeReply             MessageType = "reply"
	MessageTypeError             MessageType = "error"
)

// ChatMessage is one turn of prior conversation, forwarded verbatim to the
// upstream model.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ClientMessage is the client-to-server envelope. Only the fields for the
// tagged type are populated.
type ClientMessage struct {
	Type         MessageType    `json:"type"`
	History      []HistoryEntry `json:"history,omitempty"`
	BatchNumber  int            `json:"batchNumber,omitempty"`
	TotalBatches int            `json:"totalBatches,omitempty"`
	Message      string         `json:"message,omitempty"`
	Messages     []ChatMessage  `json:"messages,omitempty"`
}

// ServerMessage is the server-to-client envelope. Only the fields for the
// tagged type are populated.
type ServerMessage struct {
	Type                 MessageType `json:"type"`
	Message              string      `json:"message,omitempty"`
	Received             int         `json:"received,omitempty"`
	Total                int         `json:"total,omitempty"`
	Warning              string      `json:"warning,omitempty"`
	TotalHistoryEntries  int         `json:"totalHistoryEntries,omitempty"`
	TotalHistoryReceived int         `json:"totalHistoryReceived,omitempty"`
	Reply                string      `json:"reply,omitempty"`
	Error                string      `json:"error,omitempty"`
}

// ExchangeState is the client-side session state. ExchangeClosed and
// ExchangeFailed are terminal.
type ExchangeState string

const (
	ExchangeConnecting            ExchangeState = "connecting"
	ExchangeAwaitingWelcome       ExchangeState = "awaiting_welcome"
	ExchangeUploadingBatches      ExchangeState = "uploading_batches"
	ExchangeAwaitingCompletionAck ExchangeState = "awaiting_completion_ack"
	ExchangeAwaitingResponse      ExchangeState = "awaiting_response"
	ExchangeClosed                ExchangeState = "closed"
	ExchangeFailed                ExchangeState = "failed"
)

// ExchangeErrorKind classifies terminal exchange failures.
type ExchangeErrorKind string

const (
	ExchangeErrorConnection ExchangeErrorKind = "connection"
	ExchangeErrorTimeout    ExchangeErrorKind = "timeout"
	ExchangeErrorUpstream   ExchangeErrorKind = "upstream"
)

// ExchangeError is the terminal failure of an exchange. Connection and
// timeout kinds mean the whole exchange must be restarted from enumeration;
// there is no resume. The upstream kind carries the server's error message
// verbatim and the session is considered to have closed normally.
type ExchangeError struct {
	Kind ExchangeErrorKind
	err  error
}

func (e *ExchangeError) Error() string {
	if e.Kind == ExchangeErrorUpstream {
		return e.err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.err)
}

func (e *ExchangeError) Unwrap() error {
	return e.err
}

const (
	DefaultBatchSize       = 500
	DefaultWelcomeGrace    = time.Second
	DefaultSessionTimeout  = 5 * time.Minute
	DefaultWriteRetryDelay = 500 * time.Millisecond
)

// ExchangeOptions tunes one exchange. The zero value of each field selects
// the default.
type ExchangeOptions struct {
	// BatchSize is the number of records per history batch.
	BatchSize int
	// WelcomeGrace bounds the wait for the server's courtesy welcome.
	WelcomeGrace time.Duration
	// SessionTimeout is the absolute bound on the whole exchange. Every
	// suspension point shares this one timer.
	SessionTimeout time.Duration
	// WriteRetryDelay is the pause before retrying a failed write once.
	WriteRetryDelay time.Duration
	// Clock is used for all exchange timers.
	Clock quartz.Clock
}

// Exchange drives one accumulate-and-transfer session over one connection.
// It is single use: Run moves it to a terminal state and the connection is
// never pooled or reused.
type Exchange struct {
	id      uuid.UUID
	logger  slog.Logger
	clock   quartz.Clock
	options ExchangeOptions

	stream *wsjson.Stream[ServerMessage, ClientMessage]
	recv   <-chan ServerMessage
	// pending holds a message consumed while waiting for the welcome that
	// was not the welcome. It is handled after the transition, not lost.
	pending *ServerMessage

	mu           sync.Mutex
	state        ExchangeState
	warnings     []string
	batchesSent  int
	batchesAcked int
	serverTotal  int
}

// DialExchange opens the websocket for one exchange against
// /api/v1/exchange. Callers must drive the returned Exchange with Run, or
// release it with Close.
func (c *Client) DialExchange(ctx context.Context, options *ExchangeOptions) (*Exchange, error) {
	if options == nil {
		options = &ExchangeOptions{}
	}
	opts := *options
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.WelcomeGrace <= 0 {
		opts.WelcomeGrace = DefaultWelcomeGrace
	}
	if opts.SessionTimeout <= 0 {
		opts.SessionTimeout = DefaultSessionTimeout
	}
	if opts.WriteRetryDelay <= 0 {
		opts.WriteRetryDelay = DefaultWriteRetryDelay
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}

	exchangeURL, err := c.URL.Parse("/api/v1/exchange")
	if err != nil {
		return nil, xerrors.Errorf("parse exchange url: %w", err)
	}
	conn, res, err := websocket.Dial(ctx, exchangeURL.String(), &websocket.DialOptions{
		HTTPClient:      c.HTTPClient,
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		if res == nil {
			return nil, &ExchangeError{Kind: ExchangeErrorConnection, err: err}
		}
		return nil, &ExchangeError{Kind: ExchangeErrorConnection, err: ReadBodyAsError(res)}
	}
	id := uuid.New()
	logger := c.Logger.Named("exchange").With(slog.F("exchange_id", id))
	e := &Exchange{
		id:      id,
		logger:  logger,
		clock:   opts.Clock,
		options: opts,
		stream:  wsjson.NewStream[ServerMessage, ClientMessage](conn, websocket.MessageText, websocket.MessageText, logger),
		state:   ExchangeConnecting,
	}
	e.recv = e.stream.Chan()
	return e, nil
}

// State returns the current session state. It lands on ExchangeClosed or
// ExchangeFailed once Run returns.
func (e *Exchange) State() ExchangeState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Warnings returns the capacity warnings collected from batch
// acknowledgments, in arrival order.
func (e *Exchange) Warnings() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.warnings)
}

// Close releases the connection without completing the exchange. Exchanges
// whose Run returned are already closed.
func (e *Exchange) Close() error {
	return e.stream.Close(websocket.StatusNormalClosure)
}

// Run transfers set in batches, waits for the completion acknowledgment,
// then issues the chat and waits for the terminal reply. It returns the
// reply, or an *ExchangeError. A connection or timeout failure aborts the
// whole exchange; the caller restarts from enumeration, never resuming.
func (e *Exchange) Run(ctx context.Context, set RecordSet, message string, conversation []ChatMessage) (string, error) {
	timeout := e.clock.NewTimer(e.options.SessionTimeout, "exchange", "session")
	defer timeout.Stop()

	reply, err := e.run(ctx, timeout, set, message, conversation)
	if err != nil {
		if e.State() == ExchangeClosed {
			// Upstream failure after a completed upload; the session
			// already closed normally.
			return "", err
		}
		e.setState(ctx, ExchangeFailed)
		e.stream.Drop()
		return "", err
	}
	e.setState(ctx, ExchangeClosed)
	_ = e.stream.Close(websocket.StatusNormalClosure)
	return reply, nil
}

func (e *Exchange) run(ctx context.Context, timeout *quartz.Timer, set RecordSet, message string, conversation []ChatMessage) (string, error) {
	e.setState(ctx, ExchangeAwaitingWelcome)
	if err := e.awaitWelcome(ctx, timeout); err != nil {
		return "", err
	}

	e.setState(ctx, ExchangeUploadingBatches)
	batches := SplitBatches(set, e.options.BatchSize)
	for _, batch := range batches {
		err := e.send(ctx, timeout, ClientMessage{
			Type:         MessageTypeHistoryBatch,
			History:      batch.Records,
			BatchNumber:  batch.SequenceNumber,
			TotalBatches: batch.TotalBatches,
		})
		if err != nil {
			return "", err
		}
		e.mu.Lock()
		e.batchesSent++
		e.mu.Unlock()
		if err := e.awaitBatchAck(ctx, timeout, batch); err != nil {
			return "", err
		}
	}

	e.setState(ctx, ExchangeAwaitingCompletionAck)
	if err := e.send(ctx, timeout, ClientMessage{Type: MessageTypeUploadComplete}); err != nil {
		return "", err
	}
	ack, err := e.awaitCompletionAck(ctx, timeout)
	if err != nil {
		return "", err
	}
	e.logger.Info(ctx, "upload complete",
		slog.F("batches", len(batches)),
		slog.F("entries_buffered", ack.TotalHistoryEntries),
		slog.F("entries_received", ack.TotalHistoryReceived),
	)

	e.setState(ctx, ExchangeAwaitingResponse)
	err = e.send(ctx, timeout, ClientMessage{
		Type:     MessageTypeChat,
		Message:  message,
		Messages: conversation,
	})
	if err != nil {
		return "", err
	}
	return e.awaitReply(ctx, timeout)
}

// awaitWelcome waits for the server's courtesy welcome, or for the grace
// timer. The welcome is not a prerequisite for correctness; the grace period
// only exists so an in-flight welcome is not raced.
func (e *Exchange) awaitWelcome(ctx context.Context, timeout *quartz.Timer) error {
	grace := e.clock.NewTimer(e.options.WelcomeGrace, "exchange", "welcome")
	defer grace.Stop()
	select {
	case <-ctx.Done():
		return e.connectionError(ctx.Err())
	case <-timeout.C:
		return e.timeoutError()
	case <-grace.C:
		e.logger.Debug(ctx, "no welcome within grace period, proceeding")
		return nil
	case msg, ok := <-e.recv:
		if !ok {
			return e.connectionError(xerrors.New("connection closed awaiting welcome"))
		}
		if msg.Type != MessageTypeConnected {
			// The welcome was dropped. Hold this message for the next wait.
			e.pending = &msg
		}
		return nil
	}
}

func (e *Exchange) awaitBatchAck(ctx context.Context, timeout *quartz.Timer, batch HistoryBatch) error {
	for {
		msg, err := e.next(ctx, timeout)
		if err != nil {
			return err
		}
		if msg.Type != MessageTypeHistoryBatchAck {
			e.violation(ctx, msg, "awaiting batch ack")
			continue
		}
		e.mu.Lock()
		e.batchesAcked++
		e.serverTotal = msg.Total
		if msg.Warning != "" {
			e.warnings = append(e.warnings, msg.Warning)
		}
		e.mu.Unlock()
		if msg.Warning != "" {
			e.logger.Warn(ctx, "server capacity warning", slog.F("warning", msg.Warning))
		}
		e.logger.Debug(ctx, "batch acknowledged",
			slog.F("batch_number", batch.SequenceNumber),
			slog.F("total_batches", batch.TotalBatches),
			slog.F("received", msg.Received),
			slog.F("total", msg.Total),
		)
		return nil
	}
}

func (e *Exchange) awaitCompletionAck(ctx context.Context, timeout *quartz.Timer) (ServerMessage, error) {
	for {
		msg, err := e.next(ctx, timeout)
		if err != nil {
			return ServerMessage{}, err
		}
		if msg.Type != MessageTypeUploadCompleteAck {
			e.violation(ctx, msg, "awaiting completion ack")
			continue
		}
		return msg, nil
	}
}

func (e *Exchange) awaitReply(ctx context.Context, timeout *quartz.Timer) (string, error) {
	for {
		msg, err := e.next(ctx, timeout)
		if err != nil {
			return "", err
		}
		switch msg.Type {
		case MessageTypeChatQueued:
			e.logger.Debug(ctx, "chat queued by server", slog.F("message", msg.Message))
		case MessageTypeReply:
			return msg.Reply, nil
		case MessageTypeError:
			// The upload itself succeeded; the session closes normally and
			// the upstream's message is reported verbatim.
			e.setState(ctx, ExchangeClosed)
			_ = e.stream.Close(websocket.StatusNormalClosure)
			return "", &ExchangeError{Kind: ExchangeErrorUpstream, err: xerrors.New(msg.Error)}
		default:
			e.violation(ctx, msg, "awaiting reply")
		}
	}
}

// next returns the message held over from the welcome wait, if any, and
// otherwise blocks for the next server message.
func (e *Exchange) next(ctx context.Context, timeout *quartz.Timer) (ServerMessage, error) {
	if e.pending != nil {
		msg := *e.pending
		e.pending = nil
		return msg, nil
	}
	select {
	case <-ctx.Done():
		return ServerMessage{}, e.connectionError(ctx.Err())
	case <-timeout.C:
		return ServerMessage{}, e.timeoutError()
	case msg, ok := <-e.recv:
		if !ok {
			return ServerMessage{}, e.connectionError(xerrors.New("connection closed"))
		}
		return msg, nil
	}
}

// send writes msg, retrying a failed write once after WriteRetryDelay.
func (e *Exchange) send(ctx context.Context, timeout *quartz.Timer, msg ClientMessage) error {
	err := e.stream.Send(msg)
	if err == nil {
		return nil
	}
	e.logger.Warn(ctx, "write failed, retrying once",
		slog.F("message_type", msg.Type), slog.Error(err))
	retryTimer := e.clock.NewTimer(e.options.WriteRetryDelay, "exchange", "writeretry")
	defer retryTimer.Stop()
	select {
	case <-ctx.Done():
		return e.connectionError(ctx.Err())
	case <-timeout.C:
		return e.timeoutError()
	case <-retryTimer.C:
	}
	if err := e.stream.Send(msg); err != nil {
		return e.connectionError(xerrors.Errorf("write %s: %w", msg.Type, err))
	}
	return nil
}

// violation logs a message received in the wrong state. Such messages are
// tolerated so duplicate or delayed frames cannot crash the session.
func (e *Exchange) violation(ctx context.Context, msg ServerMessage, during string) {
	e.logger.Warn(ctx, "ignoring message received in wrong state",
		slog.F("message_type", msg.Type), slog.F("during", during))
}

func (e *Exchange) setState(ctx context.Context, next ExchangeState) {
	e.mu.Lock()
	prev := e.state
	e.state = next
	e.mu.Unlock()
	e.logger.Debug(ctx, "exchange state transition",
		slog.F("from", prev), slog.F("to", next))
}

func (e *Exchange) connectionError(err error) error {
	return &ExchangeError{Kind: ExchangeErrorConnection, err: err}
}

func (e *Exchange) timeoutError() error {
	return &ExchangeError{
		Kind: ExchangeErrorTimeout,
		err:  xerrors.Errorf("exchange did not complete within %s", e.options.SessionTimeout),
	}
}
