// Package event defines the events published while a question moves through
// the pipeline.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type names an event.
type Type string

const (
	TypeRequestReceived  Type = "request_received"
	TypePriorAssembled   Type = "prior_assembled"
	TypeQueryGenerated   Type = "query_generated"
	TypeStateChanged     Type = "state_changed"
	TypeRequestCompleted Type = "request_completed"
)

// Event carries the canonical shape of every pipeline event.
type Event struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	RequestID  string          `json:"request_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Stage      string          `json:"stage,omitempty"`
	Summary    string          `json:"summary"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s has no payload", e.Type)
	}
	return json.Unmarshal(e.Payload, v)
}

// Publisher accepts events. Implementations must not block the caller.
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, evt Event)

func (f PublisherFunc) Publish(ctx context.Context, evt Event) { f(ctx, evt) }

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(context.Context, Event) {})

func newID() string { return uuid.New().String() }

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func newEvent(typ Type, requestID, stage, summary string, payload any) Event {
	evt := Event{
		ID:         newID(),
		Type:       typ,
		RequestID:  requestID,
		OccurredAt: time.Now().UTC(),
		Stage:      stage,
		Summary:    summary,
	}
	if payload != nil {
		evt.Payload = mustJSON(payload)
	}
	return evt
}

// ── Request lifecycle ───────────────────────────────────────────────────────

// RequestReceivedPayload carries the incoming question.
type RequestReceivedPayload struct {
	Question string `json:"question"`
}

func NewRequestReceived(requestID, question string) Event {
	return newEvent(TypeRequestReceived, requestID, "received",
		"Question received",
		RequestReceivedPayload{Question: question})
}

// PriorAssembledPayload describes the grounding passed to the model.
type PriorAssembledPayload struct {
	Collections   []string `json:"collections"`
	Relationships int      `json:"relationships"`
}

func NewPriorAssembled(requestID string, p PriorAssembledPayload) Event {
	return newEvent(TypePriorAssembled, requestID, "prior",
		fmt.Sprintf("Ranked %d collections", len(p.Collections)), p)
}

// QueryGeneratedPayload carries a candidate query.
type QueryGeneratedPayload struct {
	Query  string `json:"query"`
	Origin string `json:"origin"`
	Valid  bool   `json:"valid"`
}

func NewQueryGenerated(requestID string, p QueryGeneratedPayload) Event {
	summary := "Query generated"
	if !p.Valid {
		summary = "Model output could not be parsed"
	}
	return newEvent(TypeQueryGenerated, requestID, "generate", summary, p)
}

// StateChangedPayload mirrors one execute/repair transition.
type StateChangedPayload struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Attempt int    `json:"attempt"`
	Error   string `json:"error,omitempty"`
}

func NewStateChanged(requestID string, p StateChangedPayload) Event {
	return newEvent(TypeStateChanged, requestID, p.To,
		fmt.Sprintf("%s → %s (attempt %d)", p.From, p.To, p.Attempt), p)
}

// RequestCompletedPayload is the record of a finished request.
type RequestCompletedPayload struct {
	Question   string `json:"question"`
	Query      string `json:"query,omitempty"`
	Origin     string `json:"origin,omitempty"`
	Outcome    string `json:"outcome"`
	ErrorClass string `json:"error_class,omitempty"`
	Rows       int64  `json:"rows"`
	ElapsedMS  int64  `json:"elapsed_ms"`
}

func NewRequestCompleted(requestID string, p RequestCompletedPayload) Event {
	summary := fmt.Sprintf("Request %s with %d rows", p.Outcome, p.Rows)
	if p.ErrorClass != "" {
		summary = fmt.Sprintf("Request %s (%s)", p.Outcome, p.ErrorClass)
	}
	return newEvent(TypeRequestCompleted, requestID, "done", summary, p)
}
