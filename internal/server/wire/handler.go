package wire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/matthewbaird/askdb/internal/event"
	"github.com/matthewbaird/askdb/internal/logging"
	"github.com/matthewbaird/askdb/internal/pipeline"
)

// Answerer answers one question with a user-safe reply.
type Answerer interface {
	HandleQuestion(ctx context.Context, text string) pipeline.Reply
}

// DefaultIdleTimeout closes connections that send nothing for this long.
const DefaultIdleTimeout = 10 * time.Minute

// Handler manages WebSocket connections. Questions on one connection are
// answered one at a time; stage events stream while a question runs.
type Handler struct {
	answerer    Answerer
	sessions    *Sessions
	idleTimeout time.Duration
	logger      *zap.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithSessions shares a session registry.
func WithSessions(s *Sessions) Option {
	return func(h *Handler) { h.sessions = s }
}

// WithIdleTimeout sets how long a connection may stay silent.
func WithIdleTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.idleTimeout = d
		}
	}
}

// NewHandler creates a WebSocket handler.
func NewHandler(answerer Answerer, logger *zap.Logger, opts ...Option) *Handler {
	logger = logging.OrNop(logger)
	h := &Handler{
		answerer:    answerer,
		sessions:    NewSessions(),
		idleTimeout: DefaultIdleTimeout,
		logger:      logger.Named("ws"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades to WebSocket and runs the message loop.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket accept", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	sess := h.sessions.Open()
	defer h.sessions.Close(sess.ID)
	h.send(ctx, conn, ServerMessage{Type: "session", Data: SessionData{SessionID: sess.ID}})

	for {
		var msg ClientMessage
		readCtx, cancel := context.WithTimeout(ctx, h.idleTimeout)
		err := wsjson.Read(readCtx, conn, &msg)
		cancel()
		if err != nil {
			switch {
			case errors.Is(readCtx.Err(), context.DeadlineExceeded):
				h.logger.Debug("idle timeout", zap.String("session", sess.ID))
				conn.Close(websocket.StatusPolicyViolation, "idle timeout")
			case websocket.CloseStatus(err) != -1:
				h.logger.Debug("connection closed", zap.String("session", sess.ID), zap.Int("status", int(websocket.CloseStatus(err))))
			}
			return
		}
		sess.Touch()

		switch msg.Type {
		case "ask":
			h.handleAsk(ctx, conn, sess, msg)
		case "history":
			h.send(ctx, conn, ServerMessage{Type: "history", RequestID: msg.ID, Data: HistoryData{Questions: sess.Questions()}})
		case "ping":
			h.send(ctx, conn, ServerMessage{Type: "pong", RequestID: msg.ID})
		default:
			h.sendError(ctx, conn, msg.ID, "unknown_type", fmt.Sprintf("unknown message type: %s", msg.Type))
		}
	}
}

func (h *Handler) handleAsk(ctx context.Context, conn *websocket.Conn, sess *Session, msg ClientMessage) {
	start := time.Now()

	var data AskData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		h.sendError(ctx, conn, msg.ID, "invalid_data", "invalid ask data")
		return
	}
	if strings.TrimSpace(data.Question) == "" {
		h.sendError(ctx, conn, msg.ID, "empty_question", "Please type a question.")
		return
	}
	sess.AddQuestion(data.Question)

	reqCtx := pipeline.WithProgress(ctx, func(evt event.Event) {
		h.send(ctx, conn, ServerMessage{
			Type:      "stage",
			RequestID: msg.ID,
			Data:      StageData{Event: evt.Type, Stage: evt.Stage, Summary: evt.Summary},
		})
	})

	reply := h.answerer.HandleQuestion(reqCtx, data.Question)
	h.send(ctx, conn, ServerMessage{
		Type:      "reply",
		RequestID: msg.ID,
		Data: ReplyData{
			Reply:   reply.Reply,
			Query:   reply.DebugQuery,
			Elapsed: time.Since(start).String(),
		},
	})
}

func (h *Handler) send(ctx context.Context, conn *websocket.Conn, msg ServerMessage) {
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		h.logger.Debug("write error", zap.Error(err))
	}
}

func (h *Handler) sendError(ctx context.Context, conn *websocket.Conn, requestID, code, message string) {
	h.send(ctx, conn, ServerMessage{
		Type:      "error",
		RequestID: requestID,
		Data: ErrorData{
			Code:    code,
			Message: message,
		},
	})
}
