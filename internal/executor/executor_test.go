package executor

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/askdb/internal/generate"
	"github.com/matthewbaird/askdb/internal/jsonfix"
	"github.com/matthewbaird/askdb/internal/plan"
	"github.com/matthewbaird/askdb/internal/policy"
	"github.com/matthewbaird/askdb/internal/qerr"
)

var known = []string{"accounts", "customers", "transactions"}

// stubSandbox returns canned outputs in order and records scripts.
type stubSandbox struct {
	outputs []string
	errs    []error
	scripts []string
}

func (s *stubSandbox) Run(_ context.Context, script string) (string, error) {
	i := len(s.scripts)
	s.scripts = append(s.scripts, script)
	var (
		out string
		err error
	)
	if i < len(s.outputs) {
		out = s.outputs[i]
	}
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return out, err
}

// stubRepairer returns canned repairs and records the messages it got.
type stubRepairer struct {
	replies  []string
	err      error
	messages []string
}

func (r *stubRepairer) Repair(_ context.Context, _ generate.Query, msg string) (generate.Query, error) {
	r.messages = append(r.messages, msg)
	if r.err != nil {
		return generate.Query{}, r.err
	}
	raw := ""
	if len(r.replies) > 0 {
		raw, r.replies = r.replies[0], r.replies[1:]
	}
	text, err := jsonfix.Normalize(raw)
	q := generate.Query{Text: text, Raw: raw, Origin: generate.OriginRepaired}
	if err != nil {
		q.ParseErr = err
		return q, qerr.New(qerr.ClassGenerationParse, "generate.normalize", err)
	}
	return q, nil
}

// recorder collects transitions.
type recorder struct {
	mu     sync.Mutex
	states []State
}

func (r *recorder) OnTransition(_ context.Context, t Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, t.To)
}

func newTestExecutor(t *testing.T, sb Sandbox, rp Repairer, rec *recorder) *Executor {
	t.Helper()
	v, err := plan.NewValidator(policy.Default(), nil)
	require.NoError(t, err)
	opts := []Option{}
	if rec != nil {
		opts = append(opts, WithObserver(rec))
	}
	return New(sb, "sample_analytics", v, rp, opts...)
}

func initial(text string) generate.Query {
	return generate.Query{Text: text, Raw: text, Origin: generate.OriginInitial}
}

func TestExecute_List(t *testing.T) {
	sb := &stubSandbox{outputs: []string{
		`{"rows":[{"_id":{"$oid":"5ca4bbcea2dd94ee58162a68"},"name":"Elizabeth Ray","birthdate":{"$date":"1977-03-02T02:20:31Z"}}]}`,
	}}
	e := newTestExecutor(t, sb, &stubRepairer{}, nil)

	res, final := e.ExecuteWithRetry(context.Background(), initial(`{"intent":"list_customers"}`), known, 1)
	require.True(t, res.OK(), res.Message())
	assert.Equal(t, generate.OriginInitial, final.Origin)
	assert.Equal(t, KindList, res.Kind)
	require.Len(t, res.Rows, 1)
	assert.EqualValues(t, 1, res.RowCount())
	require.NotNil(t, res.Plan)
	assert.Equal(t, "list_customers", res.Plan.Intent)

	b, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"list","value":[{"_id":"5ca4bbcea2dd94ee58162a68","name":"Elizabeth Ray","birthdate":"1977-03-02T02:20:31Z"}]}`, string(b))

	require.Len(t, sb.scripts, 1)
	assert.Contains(t, sb.scripts[0], `db.getSiblingDB("sample_analytics")`)
	assert.Contains(t, sb.scripts[0], `EJSON.parse("{\"intent\":\"list_customers\",\"collection\":\"customers\"`)
}

func TestExecute_Count(t *testing.T) {
	sb := &stubSandbox{outputs: []string{`{"count": 500}`}}
	e := newTestExecutor(t, sb, &stubRepairer{}, nil)

	res, _ := e.ExecuteWithRetry(context.Background(), initial(`{"collection":"customers","operation":"count","filter":{}}`), known, 1)
	require.True(t, res.OK(), res.Message())

	b, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"count","value":500}`, string(b))
}

func TestExecuteWithRetry_RepairsExecutionFailure(t *testing.T) {
	sb := &stubSandbox{outputs: []string{
		`{"__error__": "MongoServerError: unknown operator: $gtt"}`,
		`{"rows":[{"account_id":371138,"limit":10000}]}`,
	}}
	rp := &stubRepairer{replies: []string{`{"collection":"accounts","operation":"find","filter":{"limit":{"$gt":9000}}}`}}
	rec := &recorder{}
	e := newTestExecutor(t, sb, rp, rec)

	res, final := e.ExecuteWithRetry(context.Background(),
		initial(`{"collection":"accounts","operation":"find","filter":{"limit":{"$gtt":9000}}}`), known, 1)

	require.True(t, res.OK(), res.Message())
	assert.Equal(t, generate.OriginRepaired, final.Origin)
	assert.Len(t, sb.scripts, 2)
	assert.Equal(t, []string{"MongoServerError: unknown operator: $gtt"}, rp.messages)
	assert.Equal(t, []State{StateExecuting, StateFailed, StateRepairing, StateExecuting, StateSuccess}, rec.states)
}

func TestExecuteWithRetry_RepairsGenerationParseFailure(t *testing.T) {
	sb := &stubSandbox{outputs: []string{`{"count": 3}`}}
	rp := &stubRepairer{replies: []string{`{"intent": "count_customers"}`}}
	e := newTestExecutor(t, sb, rp, nil)

	bad := generate.Query{Text: jsonfix.InvalidOutput, Raw: "count the customers please", ParseErr: jsonfix.ErrInvalidOutput}
	res, final := e.ExecuteWithRetry(context.Background(), bad, known, 1)

	require.True(t, res.OK(), res.Message())
	assert.Equal(t, `{"intent":"count_customers"}`, final.Text)
	assert.Len(t, sb.scripts, 1, "the sentinel is never executed")
}

func TestExecuteWithRetry_RejectionIsNeverRetried(t *testing.T) {
	sb := &stubSandbox{}
	rp := &stubRepairer{replies: []string{`{"intent":"count_customers"}`}}
	e := newTestExecutor(t, sb, rp, nil)

	res, _ := e.ExecuteWithRetry(context.Background(), initial(`db.customers.deleteMany({})`), known, 1)

	require.False(t, res.OK())
	assert.Equal(t, qerr.ClassValidationRejected, res.Class())
	assert.ErrorIs(t, res.Err, plan.ErrRejected)
	assert.Empty(t, sb.scripts)
	assert.Empty(t, rp.messages)
}

func TestExecuteWithRetry_WriteInUnparsedOutputIsRejected(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"write before read", `db.customers.deleteMany({}); db.customers.find({})`},
		{"write in callback", `db.customers.find({}).forEach(function(d){ db.customers.deleteOne({_id: d._id}) })`},
		{"write in prose", `Sure! First I will updateMany the accounts, then count them.`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sb := &stubSandbox{outputs: []string{`{"count": 3}`}}
			rp := &stubRepairer{replies: []string{`{"intent":"count_customers"}`}}
			e := newTestExecutor(t, sb, rp, nil)

			bad := generate.Query{Text: jsonfix.InvalidOutput, Raw: tt.raw, ParseErr: jsonfix.ErrInvalidOutput, Origin: generate.OriginInitial}
			res, final := e.ExecuteWithRetry(context.Background(), bad, known, 1)

			require.False(t, res.OK())
			assert.Equal(t, qerr.ClassValidationRejected, res.Class())
			assert.ErrorIs(t, res.Err, plan.ErrRejected)
			assert.Equal(t, generate.OriginInitial, final.Origin)
			assert.Empty(t, rp.messages, "rejections are never repaired")
			assert.Empty(t, sb.scripts)
		})
	}
}

func TestExecuteWithRetry_WriteInRepairIsRejected(t *testing.T) {
	sb := &stubSandbox{outputs: []string{`{"__error__": "unknown operator: $gtt"}`, `{"rows":[]}`}}
	rp := &stubRepairer{replies: []string{`db.accounts.deleteMany({}); db.accounts.find({})`}}
	e := newTestExecutor(t, sb, rp, nil)

	res, final := e.ExecuteWithRetry(context.Background(),
		initial(`{"collection":"accounts","operation":"find","filter":{"limit":{"$gtt":1}}}`), known, 1)

	require.False(t, res.OK())
	assert.Equal(t, qerr.ClassValidationRejected, res.Class())
	assert.Equal(t, generate.OriginRepaired, final.Origin)
	assert.Len(t, rp.messages, 1)
	assert.Len(t, sb.scripts, 1, "the repaired write never runs")
}

func TestExecuteWithRetry_TimeoutIsRepairedOnce(t *testing.T) {
	timeout := qerr.Newf(qerr.ClassExecution, "sandbox.run", "query timed out after 30s")
	sb := &stubSandbox{errs: []error{timeout, timeout}}
	rp := &stubRepairer{replies: []string{
		`{"collection":"accounts","operation":"find","filter":{"limit":{"$gt":9000}}}`,
		`{"intent":"count_customers"}`,
	}}
	rec := &recorder{}
	e := newTestExecutor(t, sb, rp, rec)

	res, final := e.ExecuteWithRetry(context.Background(),
		initial(`{"collection":"accounts","operation":"find","filter":{"limit":{"$gt":1}}}`), known, 1)

	require.False(t, res.OK())
	assert.Equal(t, qerr.ClassExecution, res.Class())
	assert.Equal(t, "query timed out after 30s", res.Message())
	assert.Equal(t, generate.OriginRepaired, final.Origin)
	assert.Equal(t, []string{"query timed out after 30s"}, rp.messages, "exactly one repair")
	assert.Len(t, sb.scripts, 2)
	assert.Equal(t, []State{StateExecuting, StateFailed, StateRepairing, StateExecuting, StateFailed}, rec.states)
}

func TestExecuteWithRetry_NoProgressReturnsOriginalFailure(t *testing.T) {
	q := `{"collection":"accounts","operation":"find","filter":{"limit":{"$gtt":1}}}`

	tests := []struct {
		name  string
		reply string
	}{
		{"identical", q},
		{"identical after normalization", "```json\n" + q + "\n```"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sb := &stubSandbox{outputs: []string{`{"__error__": "unknown operator: $gtt"}`}}
			rp := &stubRepairer{replies: []string{tt.reply}}
			e := newTestExecutor(t, sb, rp, nil)

			res, final := e.ExecuteWithRetry(context.Background(), initial(q), known, 1)
			require.False(t, res.OK())
			assert.Equal(t, "unknown operator: $gtt", res.Message())
			assert.Equal(t, generate.OriginInitial, final.Origin)
			assert.Len(t, sb.scripts, 1, "no second execution")
		})
	}
}

func TestExecuteWithRetry_ExhaustedReturnsLatestFailure(t *testing.T) {
	sb := &stubSandbox{outputs: []string{
		`{"__error__": "first failure"}`,
		`{"__error__": "second failure"}`,
	}}
	rp := &stubRepairer{replies: []string{`{"collection":"accounts","operation":"find","filter":{"limit":2}}`}}
	e := newTestExecutor(t, sb, rp, nil)

	res, final := e.ExecuteWithRetry(context.Background(),
		initial(`{"collection":"accounts","operation":"find","filter":{"limit":1}}`), known, 1)

	require.False(t, res.OK())
	assert.Equal(t, "second failure", res.Message())
	assert.Equal(t, generate.OriginRepaired, final.Origin)
	assert.Len(t, rp.messages, 1)
}

func TestExecuteWithRetry_ZeroRetries(t *testing.T) {
	sb := &stubSandbox{outputs: []string{`{"__error__": "boom"}`}}
	rp := &stubRepairer{}
	e := newTestExecutor(t, sb, rp, nil)

	res, _ := e.ExecuteWithRetry(context.Background(), initial(`{"intent":"count_customers"}`), known, 0)
	require.False(t, res.OK())
	assert.Empty(t, rp.messages)
}

func TestExecuteWithRetry_RepairClientError(t *testing.T) {
	sb := &stubSandbox{outputs: []string{`{"__error__": "boom"}`}}
	rp := &stubRepairer{err: qerr.New(qerr.ClassInternal, "generate.repair", errors.New("connection refused"))}
	e := newTestExecutor(t, sb, rp, nil)

	res, _ := e.ExecuteWithRetry(context.Background(), initial(`{"intent":"count_customers"}`), known, 1)
	require.False(t, res.OK())
	assert.Equal(t, "boom", res.Message())
	assert.Equal(t, qerr.ClassExecution, res.Class())
}

func TestExecute_SandboxError(t *testing.T) {
	sb := &stubSandbox{errs: []error{qerr.Newf(qerr.ClassExecution, "sandbox.run", "query timed out after 30s")}}
	e := newTestExecutor(t, sb, &stubRepairer{}, nil)

	p, err := plan.NewValidator(policy.Default(), nil)
	require.NoError(t, err)
	pl, err := p.Validate(`{"intent":"count_customers"}`, known)
	require.NoError(t, err)

	res := e.Execute(context.Background(), pl)
	require.False(t, res.OK())
	assert.Equal(t, qerr.ClassExecution, res.Class())
	assert.Equal(t, "query timed out after 30s", res.Message())
	assert.Same(t, pl, res.Plan)
}

func TestParseOutput(t *testing.T) {
	tests := []struct {
		name  string
		out   string
		class qerr.Class
		msg   string
	}{
		{"empty", "  \n", qerr.ClassExecution, "no output"},
		{"not json", "SyntaxError: Unexpected token", qerr.ClassTransportParse, "failed to parse"},
		{"error marker", `{"__error__":"MongoServerError: bad"}`, qerr.ClassExecution, "MongoServerError: bad"},
		{"no result key", `{"ok":1}`, qerr.ClassTransportParse, "no result"},
		{"rows not array", `{"rows":5}`, qerr.ClassTransportParse, "not an array"},
		{"row not document", `{"rows":[1]}`, qerr.ClassTransportParse, "not a document"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ParseOutput(tt.out)
			require.False(t, res.OK())
			assert.Equal(t, tt.class, res.Class())
			assert.Contains(t, res.Message(), tt.msg)
			assert.True(t, res.Class().Retryable())
		})
	}

	res := ParseOutput("Warning: something\n{\"rows\":[]}\n")
	require.True(t, res.OK())
	b, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"list","value":[]}`, string(b))

	b, err = json.Marshal(ParseOutput(`{"__error__":"boom"}`))
	require.NoError(t, err)
	assert.Equal(t, `{"error":"boom"}`, string(b))
}

func TestBuildScript_QuotesPlan(t *testing.T) {
	v, err := plan.NewValidator(policy.Default(), nil)
	require.NoError(t, err)
	_, err = v.Validate(`{"collection":"customers","operation":"find","filter":{"name":"\"); db.dropDatabase(); (\""}}`, known)
	assert.ErrorIs(t, err, plan.ErrRejected)

	p, err := v.Validate(`{"collection":"customers","operation":"find","filter":{"name":"O'Brien \"quoted\""}}`, known)
	require.NoError(t, err)
	script, err := BuildScript(`sample"db`, p)
	require.NoError(t, err)
	assert.Contains(t, script, `db.getSiblingDB("sample\"db")`)
	first := strings.SplitN(script, "\n", 2)[0]
	assert.True(t, strings.HasPrefix(first, `const plan = EJSON.parse("{`))
	assert.True(t, strings.HasSuffix(first, `", {relaxed: false});`))
}
