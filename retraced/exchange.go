package retraced

import (
	"context"
	"net/http"
	"time"

	"cdr.dev/slog"

	"github.com/coder/quartz"
	"github.com/coder/websocket"

	"github.com/retracehq/retrace/retraced/httpapi"
	"github.com/retracehq/retrace/retraced/httpmw"
	"github.com/retracehq/retrace/retraced/ingest"
	"github.com/retracehq/retrace/retraced/llm"
	"github.com/retracehq/retrace/retracesdk"
	"github.com/retracehq/retrace/retracesdk/wsjson"
)

// exchangeSession serves one accumulate-and-transfer session: greet, ingest
// acknowledged history batches, confirm completion, then answer the chat.
func (api *API) exchangeSession(rw http.ResponseWriter, r *http.Request) {
	opts := websocket.AcceptOptions{
		CompressionMode: websocket.CompressionDisabled,
	}
	if len(api.AllowedOrigins) == 0 {
		opts.InsecureSkipVerify = true
	} else {
		opts.OriginPatterns = api.AllowedOrigins
	}
	api.sessions.Accept(rw, r, &opts, func(conn *websocket.Conn) {
		api.metrics.activeSessions.Inc()
		defer api.metrics.activeSessions.Dec()

		logger := api.Logger.Named("exchange").With(slog.F("session_id", httpmw.RequestID(r)))
		// Batch frames run an order of magnitude above the default read
		// limit.
		conn.SetReadLimit(1 << 20)
		s := &session{
			logger:    logger,
			clock:     api.Clock,
			llm:       api.LLM,
			metrics:   api.metrics,
			timeout:   api.SessionTimeout,
			conn:      conn,
			stream:    wsjson.NewStream[retracesdk.ClientMessage, retracesdk.ServerMessage](conn, websocket.MessageText, websocket.MessageText, logger),
			acc:       ingest.New(api.WarnThreshold, api.HardCap),
			nextBatch: 1,
		}
		outcome := s.run(r.Context())
		api.metrics.sessions.WithLabelValues(outcome).Inc()
		logger.Debug(r.Context(), "session finished", slog.F("outcome", outcome))
	})
}

// session is the server half of one exchange. A session ends with the first
// terminal outcome: an answered chat, an upstream error, the absolute
// session bound, or a dead connection.
type session struct {
	logger  slog.Logger
	clock   quartz.Clock
	llm     llm.Client
	metrics *metrics
	timeout time.Duration

	conn   *websocket.Conn
	stream *wsjson.Stream[retracesdk.ClientMessage, retracesdk.ServerMessage]

	acc *ingest.Accumulator
	// nextBatch is the only sequence number a batch is accepted under.
	// Anything else is a duplicate or delayed frame and is dropped without
	// an ack, so totals count every record exactly once.
	nextBatch       int
	declaredBatches int
	uploadDone      bool
	// heldChat arrived before the upload completed. It is answered right
	// after the completion ack; a second early chat is a violation.
	heldChat    *retracesdk.ClientMessage
	lastDropped int
}

func (s *session) run(ctx context.Context) string {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	recv := s.stream.Chan()
	// Drain so the decoder goroutine can exit once the connection closes.
	defer func() {
		for range recv {
		}
	}()
	defer s.stream.Drop()

	go httpapi.Heartbeat(ctx, s.conn)

	timer := s.clock.NewTimer(s.timeout, "exchange", "session")
	defer timer.Stop()

	err := s.stream.Send(retracesdk.ServerMessage{
		Type:    retracesdk.MessageTypeConnected,
		Message: "Connected to Retrace. Upload your history to begin.",
	})
	if err != nil {
		s.logger.Debug(ctx, "failed to send welcome", slog.Error(err))
		return "disconnected"
	}

	for {
		select {
		case <-ctx.Done():
			return "canceled"
		case <-timer.C:
			s.logger.Warn(ctx, "session reached its absolute bound without completing",
				slog.F("timeout", s.timeout))
			_ = s.conn.Close(websocket.StatusPolicyViolation, "session timeout")
			return "timeout"
		case msg, ok := <-recv:
			if !ok {
				s.logger.Debug(ctx, "connection closed")
				return "disconnected"
			}
			outcome, done := s.handle(ctx, msg)
			if done {
				return outcome
			}
		}
	}
}

func (s *session) handle(ctx context.Context, msg retracesdk.ClientMessage) (outcome string, done bool) {
	switch msg.Type {
	case retracesdk.MessageTypeHistoryBatch:
		return s.handleBatch(ctx, msg)
	case retracesdk.MessageTypeUploadComplete:
		return s.handleUploadComplete(ctx, msg)
	case retracesdk.MessageTypeChat:
		return s.handleChat(ctx, msg)
	default:
		s.violation(ctx, msg, "unexpected type")
		return "", false
	}
}

func (s *session) handleBatch(ctx context.Context, msg retracesdk.ClientMessage) (string, bool) {
	if s.uploadDone {
		s.violation(ctx, msg, "batch after upload completion")
		return "", false
	}
	if msg.BatchNumber != s.nextBatch {
		s.logger.Warn(ctx, "ignoring duplicate or out-of-order batch",
			slog.F("batch_number", msg.BatchNumber),
			slog.F("expected", s.nextBatch),
		)
		return "", false
	}
	if s.declaredBatches == 0 {
		s.declaredBatches = msg.TotalBatches
	} else if msg.TotalBatches != s.declaredBatches {
		s.logger.Debug(ctx, "batch changed the declared total",
			slog.F("declared", s.declaredBatches),
			slog.F("got", msg.TotalBatches),
		)
	}
	s.nextBatch++

	result := s.acc.Ingest(msg.History)
	s.metrics.batchesIngested.Inc()
	s.metrics.recordsIngested.Add(float64(result.Received))
	dropped := s.acc.Dropped()
	s.metrics.recordsDropped.Add(float64(dropped - s.lastDropped))
	s.lastDropped = dropped

	err := s.stream.Send(retracesdk.ServerMessage{
		Type:     retracesdk.MessageTypeHistoryBatchAck,
		Received: result.Received,
		Total:    result.Total,
		Warning:  result.Warning,
	})
	if err != nil {
		s.logger.Debug(ctx, "failed to send batch ack", slog.Error(err))
		return "disconnected", true
	}
	s.logger.Debug(ctx, "batch ingested",
		slog.F("batch_number", msg.BatchNumber),
		slog.F("declared_batches", msg.TotalBatches),
		slog.F("received", result.Received),
		slog.F("total", result.Total),
		slog.F("warning", result.Warning),
	)
	return "", false
}

func (s *session) handleUploadComplete(ctx context.Context, msg retracesdk.ClientMessage) (string, bool) {
	if s.uploadDone {
		s.violation(ctx, msg, "duplicate upload completion")
		return "", false
	}
	s.uploadDone = true

	// Enumeration is best-effort on the client, so the ack carries this
	// side's counts either way.
	if got := s.nextBatch - 1; s.declaredBatches != 0 && got != s.declaredBatches {
		s.logger.Warn(ctx, "completion batch count differs from the declared total",
			slog.F("declared", s.declaredBatches),
			slog.F("received", got),
		)
	}

	err := s.stream.Send(retracesdk.ServerMessage{
		Type:                 retracesdk.MessageTypeUploadCompleteAck,
		TotalHistoryEntries:  len(s.acc.Entries()),
		TotalHistoryReceived: s.acc.TotalReceived(),
	})
	if err != nil {
		s.logger.Debug(ctx, "failed to send completion ack", slog.Error(err))
		return "disconnected", true
	}
	s.logger.Info(ctx, "history upload complete",
		slog.F("entries_buffered", len(s.acc.Entries())),
		slog.F("entries_received", s.acc.TotalReceived()),
		slog.F("entries_dropped", s.acc.Dropped()),
		slog.F("batches", s.nextBatch-1),
	)

	if s.heldChat != nil {
		held := *s.heldChat
		s.heldChat = nil
		return s.answer(ctx, held), true
	}
	return "", false
}

func (s *session) handleChat(ctx context.Context, msg retracesdk.ClientMessage) (string, bool) {
	if !s.uploadDone {
		if s.heldChat != nil {
			s.violation(ctx, msg, "a chat is already held")
			return "", false
		}
		held := msg
		s.heldChat = &held
		err := s.stream.Send(retracesdk.ServerMessage{
			Type:    retracesdk.MessageTypeChatQueued,
			Message: "History upload in progress. Your question runs once the upload is confirmed.",
		})
		if err != nil {
			s.logger.Debug(ctx, "failed to send chat_queued", slog.Error(err))
			return "disconnected", true
		}
		s.logger.Debug(ctx, "chat held until upload completes")
		return "", false
	}
	return s.answer(ctx, msg), true
}

// answer runs the dependent request. It only executes after the completion
// ack, so the full buffered history is always in context.
func (s *session) answer(ctx context.Context, msg retracesdk.ClientMessage) string {
	reply, err := s.llm.Complete(ctx, llm.Request{
		Message:      msg.Message,
		Conversation: msg.Messages,
		History:      s.acc.Entries(),
	})
	if err != nil {
		s.logger.Warn(ctx, "chat completion failed", slog.Error(err))
		// Upstream failures close the session normally; the client shows
		// the message verbatim.
		sendErr := s.stream.Send(retracesdk.ServerMessage{
			Type:  retracesdk.MessageTypeError,
			Error: err.Error(),
		})
		if sendErr != nil {
			return "disconnected"
		}
		_ = s.stream.Close(websocket.StatusNormalClosure)
		return "upstream_error"
	}
	err = s.stream.Send(retracesdk.ServerMessage{
		Type:  retracesdk.MessageTypeReply,
		Reply: reply,
	})
	if err != nil {
		s.logger.Debug(ctx, "failed to send reply", slog.Error(err))
		return "disconnected"
	}
	_ = s.stream.Close(websocket.StatusNormalClosure)
	return "completed"
}

// violation logs a message received in the wrong state. Such messages are
// tolerated so duplicate or delayed frames cannot crash the session.
func (s *session) violation(ctx context.Context, msg retracesdk.ClientMessage, during string) {
	s.logger.Warn(ctx, "ignoring message received in wrong state",
		slog.F("message_type", msg.Type), slog.F("during", during))
}
