package pipeline

import (
	"context"

	"github.com/google/uuid"

	"github.com/matthewbaird/askdb/internal/event"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	progressKey
)

// ProgressFunc receives every event of a request as it happens.
type ProgressFunc func(evt event.Event)

// WithRequestID tags ctx with a request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFrom returns the request ID carried by ctx, or "".
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithProgress attaches a progress callback to ctx. The callback runs on
// the request goroutine and must not block.
func WithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	return context.WithValue(ctx, progressKey, fn)
}

func progressFrom(ctx context.Context) ProgressFunc {
	fn, _ := ctx.Value(progressKey).(ProgressFunc)
	return fn
}

func ensureRequestID(ctx context.Context) (context.Context, string) {
	if id := RequestIDFrom(ctx); id != "" {
		return ctx, id
	}
	id := uuid.New().String()
	return WithRequestID(ctx, id), id
}

// emit publishes evt and hands it to the progress callback, if any.
func emit(ctx context.Context, pub event.Publisher, evt event.Event) {
	pub.Publish(ctx, evt)
	if fn := progressFrom(ctx); fn != nil {
		fn(evt)
	}
}
