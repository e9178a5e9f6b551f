package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/matthewbaird/askdb/internal/event"
	"github.com/matthewbaird/askdb/internal/history"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type collector struct {
	mu     sync.Mutex
	events []event.Event
}

func (c *collector) HandleEvent(_ context.Context, evt event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *collector) types() []event.Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]event.Type, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type
	}
	return out
}

func TestBus_DispatchesInOrder(t *testing.T) {
	bus := New(8, nil)
	c := &collector{}
	bus.Subscribe("collector", c)
	bus.Start(context.Background())

	ctx := context.Background()
	bus.Publish(ctx, event.NewRequestReceived("r", "q"))
	bus.Publish(ctx, event.NewQueryGenerated("r", event.QueryGeneratedPayload{Valid: true}))
	bus.Publish(ctx, event.NewRequestCompleted("r", event.RequestCompletedPayload{Outcome: "success"}))
	bus.Stop()

	assert.Equal(t, []event.Type{
		event.TypeRequestReceived,
		event.TypeQueryGenerated,
		event.TypeRequestCompleted,
	}, c.types())
}

func TestBus_DrainsOnCancel(t *testing.T) {
	bus := New(8, nil)
	c := &collector{}
	bus.Subscribe("collector", c)

	for i := 0; i < 5; i++ {
		bus.Publish(context.Background(), event.NewRequestReceived("r", "q"))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Start(ctx)
	bus.Stop()

	assert.Len(t, c.types(), 5)
}

func TestBus_DropsWhenFullOrStopped(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	bus := New(1, zap.New(core))

	bus.Publish(context.Background(), event.NewRequestReceived("r", "1"))
	bus.Publish(context.Background(), event.NewRequestReceived("r", "2"))
	assert.Equal(t, 1, logs.FilterMessage("buffer full, dropping event").Len())

	bus.Start(context.Background())
	bus.Stop()
	bus.Publish(context.Background(), event.NewRequestReceived("r", "3"))
	assert.Equal(t, 1, logs.FilterMessage("bus stopped, dropping event").Len())
}

func TestBus_HandlerErrorDoesNotStopOthers(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	bus := New(4, zap.New(core))
	c := &collector{}
	bus.Subscribe("failing", HandlerFunc(func(context.Context, event.Event) error {
		return errors.New("boom")
	}))
	bus.Subscribe("collector", c)
	bus.Start(context.Background())

	bus.Publish(context.Background(), event.NewRequestReceived("r", "q"))
	bus.Stop()

	assert.Len(t, c.types(), 1)
	require.Equal(t, 1, logs.FilterMessage("handler error").Len())
	assert.Equal(t, "failing", logs.All()[0].ContextMap()["handler"])
}

func TestHistoryConsumer(t *testing.T) {
	store := history.NewMemoryStore()
	bus := New(4, nil)
	bus.Subscribe("history", NewHistoryConsumer(store))
	bus.Subscribe("log", NewLogConsumer(nil))
	bus.Start(context.Background())

	ctx := context.Background()
	bus.Publish(ctx, event.NewRequestReceived("req-1", "how many customers"))
	bus.Publish(ctx, event.NewRequestCompleted("req-1", event.RequestCompletedPayload{
		Question: "how many customers",
		Outcome:  history.OutcomeSuccess,
		Rows:     1,
	}))
	bus.Stop()

	recs, err := store.Recent(ctx, history.DefaultQueryOptions())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "req-1", recs[0].ID)
	assert.Equal(t, "how many customers", recs[0].Question)
}
