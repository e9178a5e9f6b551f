package eventbus

import (
	"context"

	"github.com/matthewbaird/askdb/internal/event"
	"github.com/matthewbaird/askdb/internal/history"
)

// HistoryConsumer writes completed requests to the history store. Other
// event types are ignored.
type HistoryConsumer struct {
	store history.Store
}

// NewHistoryConsumer creates a consumer that records into store.
func NewHistoryConsumer(store history.Store) *HistoryConsumer {
	return &HistoryConsumer{store: store}
}

func (c *HistoryConsumer) HandleEvent(ctx context.Context, evt event.Event) error {
	if evt.Type != event.TypeRequestCompleted {
		return nil
	}
	rec, err := history.FromEvent(evt)
	if err != nil {
		return err
	}
	return c.store.Write(ctx, rec)
}
