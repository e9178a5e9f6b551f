package pipeline

import (
	"context"

	"github.com/matthewbaird/askdb/internal/event"
	"github.com/matthewbaird/askdb/internal/executor"
)

// Observer turns executor state transitions into state_changed events for
// the request carried by the context.
type Observer struct {
	pub event.Publisher
}

// NewObserver creates an observer that publishes to pub.
func NewObserver(pub event.Publisher) *Observer {
	if pub == nil {
		pub = event.Discard
	}
	return &Observer{pub: pub}
}

func (o *Observer) OnTransition(ctx context.Context, t executor.Transition) {
	p := event.StateChangedPayload{
		From:    string(t.From),
		To:      string(t.To),
		Attempt: t.Attempt,
	}
	if t.Result != nil && !t.Result.OK() {
		p.Error = string(t.Result.Class())
	}
	emit(ctx, o.pub, event.NewStateChanged(RequestIDFrom(ctx), p))
}
