// Package eventbus provides an in-process pub/sub bus for pipeline events.
// The pipeline publishes without blocking; subscribers run on a single
// consumer goroutine.
package eventbus

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/matthewbaird/askdb/internal/event"
)

// DefaultBufferSize is used when New is given a size below one.
const DefaultBufferSize = 256

// Handler processes an event. Implementations must be safe for
// concurrent calls from different goroutines.
type Handler interface {
	HandleEvent(ctx context.Context, evt event.Event) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt event.Event) error

func (f HandlerFunc) HandleEvent(ctx context.Context, evt event.Event) error {
	return f(ctx, evt)
}

// Bus is an in-process event bus. Events are published to a buffered
// channel and dispatched to all subscribers in order, which keeps writes to
// the SQLite history store serialised.
type Bus struct {
	mu          sync.RWMutex
	subscribers []namedHandler
	events      chan event.Event
	done        chan struct{}
	stopped     bool
	logger      *zap.Logger
}

type namedHandler struct {
	name    string
	handler Handler
}

// New creates a new Bus with the given channel buffer size.
func New(bufSize int, logger *zap.Logger) *Bus {
	if bufSize < 1 {
		bufSize = DefaultBufferSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		events: make(chan event.Event, bufSize),
		done:   make(chan struct{}),
		logger: logger.Named("eventbus"),
	}
}

// Subscribe registers a named handler. Must be called before Start.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, namedHandler{name: name, handler: h})
}

// Publish sends an event to the bus. Non-blocking: if the buffer is full,
// or the bus is stopped, the event is dropped and a warning is logged.
func (b *Bus) Publish(_ context.Context, evt event.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		b.logger.Warn("bus stopped, dropping event", zap.String("type", string(evt.Type)), zap.String("id", evt.ID))
		return
	}
	select {
	case b.events <- evt:
	default:
		b.logger.Warn("buffer full, dropping event", zap.String("type", string(evt.Type)), zap.String("id", evt.ID))
	}
}

// Start begins the consumer goroutine. It processes events until the
// context is cancelled or Stop is called; pending events are drained first.
func (b *Bus) Start(ctx context.Context) {
	go func() {
		defer close(b.done)
		for {
			select {
			case evt, ok := <-b.events:
				if !ok {
					return
				}
				b.dispatch(ctx, evt)
			case <-ctx.Done():
				b.drain(context.WithoutCancel(ctx))
				return
			}
		}
	}()
}

func (b *Bus) drain(ctx context.Context) {
	for {
		select {
		case evt, ok := <-b.events:
			if !ok {
				return
			}
			b.dispatch(ctx, evt)
		default:
			return
		}
	}
}

// Stop closes the bus and waits for the consumer goroutine to finish.
// Start must have been called.
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.stopped {
		b.stopped = true
		close(b.events)
	}
	b.mu.Unlock()
	<-b.done
}

func (b *Bus) dispatch(ctx context.Context, evt event.Event) {
	b.mu.RLock()
	subs := b.subscribers
	b.mu.RUnlock()

	for _, s := range subs {
		if err := s.handler.HandleEvent(ctx, evt); err != nil {
			b.logger.Warn("handler error",
				zap.String("handler", s.name),
				zap.String("type", string(evt.Type)),
				zap.Error(err),
			)
		}
	}
}
