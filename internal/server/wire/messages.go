// Package wire defines the WebSocket protocol for streaming answers.
package wire

import (
	"encoding/json"

	"github.com/matthewbaird/askdb/internal/event"
)

// ── Client → Server messages ────────────────────────────────────────────────

// ClientMessage is the envelope for all client-to-server WebSocket messages.
type ClientMessage struct {
	Type string          `json:"type"` // "ask", "history", "ping"
	ID   string          `json:"id"`   // Client-assigned request ID
	Data json.RawMessage `json:"data,omitempty"`
}

// AskData is the payload for "ask" messages.
type AskData struct {
	Question string `json:"question"`
}

// ── Server → Client messages ────────────────────────────────────────────────

// ServerMessage is the envelope for all server-to-client WebSocket messages.
type ServerMessage struct {
	Type      string `json:"type"`                 // "session", "stage", "reply", "history", "error", "pong"
	RequestID string `json:"request_id,omitempty"` // Echoes client ID
	Data      any    `json:"data,omitempty"`
}

// SessionData is sent once when the connection opens.
type SessionData struct {
	SessionID string `json:"session_id"`
}

// StageData reports one pipeline event while a question is answered.
type StageData struct {
	Event   event.Type `json:"event"`
	Stage   string     `json:"stage,omitempty"`
	Summary string     `json:"summary"`
}

// ReplyData is the final answer.
type ReplyData struct {
	Reply   string  `json:"reply"`
	Query   *string `json:"mql,omitempty"`
	Elapsed string  `json:"elapsed"`
}

// HistoryData lists the questions asked on this connection.
type HistoryData struct {
	Questions []string `json:"questions"`
}

// ErrorData carries an error message.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
