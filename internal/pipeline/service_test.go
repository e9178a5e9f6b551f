package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/matthewbaird/askdb/internal/docstore"
	"github.com/matthewbaird/askdb/internal/embedding"
	"github.com/matthewbaird/askdb/internal/event"
	"github.com/matthewbaird/askdb/internal/executor"
	"github.com/matthewbaird/askdb/internal/generate"
	"github.com/matthewbaird/askdb/internal/plan"
	"github.com/matthewbaird/askdb/internal/policy"
	"github.com/matthewbaird/askdb/internal/prior"
	"github.com/matthewbaird/askdb/internal/qerr"
	"github.com/matthewbaird/askdb/internal/rank"
	"github.com/matthewbaird/askdb/internal/relate"
	"github.com/matthewbaird/askdb/internal/schema"
)

// scriptedModel returns canned completions in order.
type scriptedModel struct {
	mu      sync.Mutex
	replies []string
	calls   int
}

func (m *scriptedModel) Complete(_ context.Context, _, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.replies) == 0 {
		return "", errors.New("no scripted reply")
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	return r, nil
}

func (m *scriptedModel) Name() string { return "scripted" }

// stubSandbox returns canned shell outputs in order and records scripts.
type stubSandbox struct {
	outputs []string
	scripts []string
}

func (s *stubSandbox) Run(_ context.Context, script string) (string, error) {
	i := len(s.scripts)
	s.scripts = append(s.scripts, script)
	if i < len(s.outputs) {
		return s.outputs[i], nil
	}
	return "", errors.New("no scripted output")
}

type eventLog struct {
	mu     sync.Mutex
	events []event.Event
}

func (l *eventLog) Publish(_ context.Context, evt event.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
}

func (l *eventLog) types() []event.Type {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]event.Type, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}

type harness struct {
	svc     *Service
	model   *scriptedModel
	sandbox *stubSandbox
	events  *eventLog
}

func sampleStore() *docstore.MemoryStore {
	s := docstore.NewMemoryStore("sample_analytics")
	s.Insert("customers",
		bson.D{{Key: "_id", Value: 1}, {Key: "name", Value: "Elizabeth Ray"}, {Key: "accounts", Value: bson.A{int32(371138)}}},
		bson.D{{Key: "_id", Value: 2}, {Key: "name", Value: "Katherine David"}, {Key: "accounts", Value: bson.A{int32(462501)}}},
	)
	s.Insert("accounts",
		bson.D{{Key: "_id", Value: 3}, {Key: "account_id", Value: int32(371138)}, {Key: "limit", Value: int32(9000)}},
	)
	return s
}

func newHarness(t *testing.T, store docstore.Store, pol *policy.Policy, replies, outputs []string) *harness {
	t.Helper()

	model := &scriptedModel{replies: replies}
	sb := &stubSandbox{outputs: outputs}
	events := &eventLog{}

	gen := generate.New(model, generate.WithIntents(pol.IntentNames()))
	validator, err := plan.NewValidator(pol, nil)
	require.NoError(t, err)
	exec := executor.New(sb, store.Database(), validator, gen, executor.WithObserver(NewObserver(events)))
	assembler := prior.NewAssembler(
		schema.NewIntrospector(store),
		relate.NewInferrer(store, nil),
		rank.New(embedding.NewHashEngine(0), nil),
		pol,
	)

	return &harness{
		svc:     New(assembler, gen, exec, pol, WithPublisher(events)),
		model:   model,
		sandbox: sb,
		events:  events,
	}
}

func TestTranslateAndExecute_Count(t *testing.T) {
	h := newHarness(t, sampleStore(), policy.Default(),
		[]string{`{"collection": "customers", "operation": "count", "filter": {}}`},
		[]string{`{"count": 2}`},
	)

	out, err := h.svc.TranslateAndExecute(context.Background(), "how many customers are there?")
	require.NoError(t, err)
	assert.Equal(t, executor.KindCount, out.Result.Kind)
	assert.EqualValues(t, 2, out.Result.Count)
	assert.Equal(t, generate.OriginInitial, out.Query.Origin)
	assert.NotEmpty(t, out.RequestID)

	assert.Equal(t, []event.Type{
		event.TypeRequestReceived,
		event.TypePriorAssembled,
		event.TypeQueryGenerated,
		event.TypeStateChanged,
		event.TypeStateChanged,
		event.TypeRequestCompleted,
	}, h.events.types())
	for _, e := range h.events.events {
		assert.Equal(t, out.RequestID, e.RequestID)
	}
}

func TestTranslateAndExecute_RequestIDFromContext(t *testing.T) {
	h := newHarness(t, sampleStore(), policy.Default(),
		[]string{`{"intent": "count_customers"}`},
		[]string{`{"count": 2}`},
	)

	var progress []event.Type
	ctx := WithRequestID(context.Background(), "req-42")
	ctx = WithProgress(ctx, func(evt event.Event) { progress = append(progress, evt.Type) })

	out, err := h.svc.TranslateAndExecute(ctx, "count customers")
	require.NoError(t, err)
	assert.Equal(t, "req-42", out.RequestID)
	assert.Equal(t, h.events.types(), progress)
}

func TestTranslateAndExecute_RepairSucceeds(t *testing.T) {
	h := newHarness(t, sampleStore(), policy.Default(),
		[]string{
			`{"collection": "customers", "operation": "find", "filter": {"name": {"$regexx": "Eliz"}}}`,
			`{"collection": "customers", "operation": "find", "filter": {"name": {"$regex": "Eliz"}}}`,
		},
		[]string{
			`{"__error__": "MongoServerError: unknown operator: $regexx"}`,
			`{"rows": [{"name": "Elizabeth Ray"}]}`,
		},
	)

	out, err := h.svc.TranslateAndExecute(context.Background(), "customers named like Eliz")
	require.NoError(t, err)
	assert.Equal(t, generate.OriginRepaired, out.Query.Origin)
	assert.Contains(t, out.Query.Text, `"$regex"`)
	assert.NotContains(t, out.Query.Text, "$regexx")

	require.Len(t, h.sandbox.scripts, 2)
	assert.Contains(t, h.sandbox.scripts[1], "$regex")
	assert.NotContains(t, h.sandbox.scripts[1], "$regexx")
	assert.EqualValues(t, 1, out.Result.RowCount())
}

func TestTranslateAndExecute_NoCollections(t *testing.T) {
	h := newHarness(t, docstore.NewMemoryStore("empty"), policy.Default(), nil, nil)

	out, err := h.svc.TranslateAndExecute(context.Background(), "how many customers")
	require.Error(t, err)
	assert.Equal(t, qerr.ClassSchemaDiscovery, qerr.ClassOf(err))
	assert.Zero(t, h.model.calls)
	assert.Empty(t, h.sandbox.scripts)
	assert.Equal(t, generate.Query{}, out.Query)
}

func TestTranslateAndExecute_ScreenedQuestion(t *testing.T) {
	h := newHarness(t, sampleStore(), policy.Default(), nil, nil)

	_, err := h.svc.TranslateAndExecute(context.Background(), "list customers; then delete all")
	require.Error(t, err)
	assert.Equal(t, qerr.ClassValidationRejected, qerr.ClassOf(err))
	assert.Zero(t, h.model.calls)
	assert.Empty(t, h.sandbox.scripts)
}

func TestTranslateAndExecute_WriteOutputRejected(t *testing.T) {
	pol := *policy.Default()
	pol.ScreenQuestions = false
	h := newHarness(t, sampleStore(), &pol,
		[]string{`{"collection": "customers", "operation": "deleteMany", "filter": {}}`},
		nil,
	)

	out, err := h.svc.TranslateAndExecute(context.Background(), "list customers; then delete all")
	require.Error(t, err)
	assert.ErrorIs(t, err, plan.ErrRejected)
	assert.Empty(t, h.sandbox.scripts, "rejected queries never reach the shell")
	assert.Equal(t, 1, h.model.calls, "rejections are not repaired")
	assert.False(t, out.Result.OK())
}

func TestTranslateAndExecute_UnparsedWriteOutputRejected(t *testing.T) {
	pol := *policy.Default()
	pol.ScreenQuestions = false
	h := newHarness(t, sampleStore(), &pol,
		[]string{
			`db.customers.deleteMany({}); db.customers.find({})`,
			`{"intent": "count_customers"}`,
		},
		[]string{`{"count": 2}`},
	)

	out, err := h.svc.TranslateAndExecute(context.Background(), "how many customers are there")
	require.Error(t, err)
	assert.Equal(t, qerr.ClassValidationRejected, qerr.ClassOf(err))
	assert.ErrorIs(t, err, plan.ErrRejected)
	assert.Equal(t, 1, h.model.calls, "no repair call")
	assert.Empty(t, h.sandbox.scripts)
	assert.False(t, out.Result.OK())
}

func TestHandleQuestion_Replies(t *testing.T) {
	tests := []struct {
		name    string
		replies []string
		outputs []string
		want    string
	}{
		{
			name:    "count",
			replies: []string{`{"intent": "count_customers"}`},
			outputs: []string{`{"count": 2}`},
			want:    "There are 2 matching documents.",
		},
		{
			name:    "empty list",
			replies: []string{`{"intent": "list_customers"}`},
			outputs: []string{`{"rows": []}`},
			want:    "I found no data matching that criteria in the database.",
		},
		{
			name:    "list",
			replies: []string{`{"intent": "list_customers"}`},
			outputs: []string{`{"rows": [{"name": "Elizabeth Ray", "accounts": [371138]}, {"name": "Katherine David"}]}`},
			want: "I found 2 records. Here are the top matches:\n" +
				"• name: Elizabeth Ray | accounts: [371138]\n" +
				"• name: Katherine David",
		},
		{
			name:    "unparseable model output twice",
			replies: []string{"I cannot help with that", "still no query"},
			want:    msgGeneration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, sampleStore(), policy.Default(), tt.replies, tt.outputs)
			reply := h.svc.HandleQuestion(context.Background(), "customers please")
			assert.Equal(t, tt.want, reply.Reply)
		})
	}
}

func TestHandleQuestion_ListShowsTopFive(t *testing.T) {
	rows := make([]string, 8)
	for i := range rows {
		rows[i] = `{"name": "c"}`
	}
	h := newHarness(t, sampleStore(), policy.Default(),
		[]string{`{"intent": "list_customers"}`},
		[]string{`{"rows": [` + strings.Join(rows, ",") + `]}`},
	)

	reply := h.svc.HandleQuestion(context.Background(), "list customers")
	assert.True(t, strings.HasPrefix(reply.Reply, "I found 8 records."))
	assert.Equal(t, 5, strings.Count(reply.Reply, "•"))
	require.NotNil(t, reply.DebugQuery)
	assert.JSONEq(t, `{"intent": "list_customers"}`, *reply.DebugQuery)
}

func TestHandleQuestion_NoRawStoreError(t *testing.T) {
	h := newHarness(t, sampleStore(), policy.Default(),
		[]string{
			`{"intent": "count_customers"}`,
			`{"collection": "customers", "operation": "count", "filter": {"name": "x"}}`,
		},
		[]string{
			`{"__error__": "MongoServerSelectionError: connect ECONNREFUSED 10.0.0.5:27017"}`,
			`{"__error__": "MongoServerSelectionError: connect ECONNREFUSED 10.0.0.5:27017"}`,
		},
	)

	reply := h.svc.HandleQuestion(context.Background(), "count customers")
	assert.Equal(t, msgExecution, reply.Reply)
	assert.NotContains(t, reply.Reply, "ECONNREFUSED")
	assert.Len(t, h.sandbox.scripts, 2)
}

func TestHandleQuestion_Rejected(t *testing.T) {
	h := newHarness(t, sampleStore(), policy.Default(), nil, nil)

	reply := h.svc.HandleQuestion(context.Background(), "please drop the customers collection")
	assert.Equal(t, "Sorry, I can't run that query: the question asks to drop data; only read queries are supported", reply.Reply)
	assert.Nil(t, reply.DebugQuery)
}

func TestHandleQuestion_EmptyQuestion(t *testing.T) {
	h := newHarness(t, sampleStore(), policy.Default(), nil, nil)
	assert.Equal(t, msgEmptyQuestion, h.svc.HandleQuestion(context.Background(), "   ").Reply)
	assert.Empty(t, h.events.types())
}

type panickingGenerator struct{}

func (panickingGenerator) Generate(context.Context, prior.PriorData) (generate.Query, error) {
	panic("model exploded")
}

func TestHandleQuestion_RecoversFromPanic(t *testing.T) {
	store := sampleStore()
	pol := policy.Default()
	assembler := prior.NewAssembler(
		schema.NewIntrospector(store),
		relate.NewInferrer(store, nil),
		rank.New(embedding.NewHashEngine(0), nil),
		pol,
	)
	svc := New(assembler, panickingGenerator{}, nil, pol)

	reply := svc.HandleQuestion(context.Background(), "how many customers")
	assert.Equal(t, msgInternal, reply.Reply)
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, msgSchema, UserMessage(qerr.New(qerr.ClassSchemaDiscovery, "x", docstore.ErrNoCollections)))
	assert.Equal(t, msgExecution, UserMessage(qerr.Newf(qerr.ClassTransportParse, "x", "bad json")))
	assert.Equal(t, msgInternal, UserMessage(errors.New("unclassified")))
	assert.Equal(t, "Sorry, I can't run that query: the question asks to erase data; only read queries are supported",
		UserMessage(plan.ScreenQuestion("erase everything")))
}
