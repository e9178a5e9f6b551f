// Package history records completed requests: the question, the query that
// finally ran and how it ended.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/matthewbaird/askdb/internal/event"
)

// ErrNotFound is returned by Get for an unknown record ID.
var ErrNotFound = errors.New("history record not found")

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// Record is one completed request.
type Record struct {
	ID         string    `json:"id"`
	Question   string    `json:"question"`
	Query      string    `json:"query,omitempty"`
	Origin     string    `json:"origin,omitempty"`
	Outcome    string    `json:"outcome"`
	ErrorClass string    `json:"error_class,omitempty"`
	Rows       int64     `json:"rows"`
	ElapsedMS  int64     `json:"elapsed_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store persists records. Recent returns newest first.
type Store interface {
	Write(ctx context.Context, rec Record) error
	Recent(ctx context.Context, opts QueryOptions) ([]Record, error)
	Get(ctx context.Context, id string) (Record, error)
}

// FromEvent builds a record from a request_completed event.
func FromEvent(evt event.Event) (Record, error) {
	if evt.Type != event.TypeRequestCompleted {
		return Record{}, errors.New("history: not a request_completed event: " + string(evt.Type))
	}
	var p event.RequestCompletedPayload
	if err := evt.Decode(&p); err != nil {
		return Record{}, err
	}
	return Record{
		ID:         evt.RequestID,
		Question:   p.Question,
		Query:      p.Query,
		Origin:     p.Origin,
		Outcome:    p.Outcome,
		ErrorClass: p.ErrorClass,
		Rows:       p.Rows,
		ElapsedMS:  p.ElapsedMS,
		CreatedAt:  evt.OccurredAt,
	}, nil
}
