// Package executor runs validated plans through an isolated database shell
// and drives the single-repair retry loop.
package executor

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/matthewbaird/askdb/internal/generate"
	"github.com/matthewbaird/askdb/internal/plan"
	"github.com/matthewbaird/askdb/internal/qerr"
)

// DefaultMaxRetries is the number of repair attempts per request.
const DefaultMaxRetries = 1

// ErrNoProgress means a repair returned nothing, or the same query again.
var ErrNoProgress = errors.New("repair made no progress")

// State is a step of the execute/repair state machine.
type State string

const (
	StatePending   State = "pending"
	StateExecuting State = "executing"
	StateRepairing State = "repairing"
	StateSuccess   State = "success"
	StateFailed    State = "failed"
)

// Transition is reported to the observer on every state change.
type Transition struct {
	From    State
	To      State
	Attempt int
	Query   generate.Query
	Result  *Result // set on success and failure
}

// Observer receives state transitions. The context is the request context.
type Observer interface {
	OnTransition(ctx context.Context, t Transition)
}

// Validator turns a candidate into a plan.
type Validator interface {
	Validate(candidate string, known []string) (*plan.Plan, error)
}

// Repairer asks for a syntax-only fix of a failed query.
type Repairer interface {
	Repair(ctx context.Context, bad generate.Query, errMessage string) (generate.Query, error)
}

// Executor runs plans through a Sandbox.
type Executor struct {
	sandbox   Sandbox
	database  string
	validator Validator
	repairer  Repairer
	observer  Observer
	logger    *zap.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithObserver sets the transition observer.
func WithObserver(o Observer) Option {
	return func(e *Executor) { e.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an executor that runs plans against database.
func New(sandbox Sandbox, database string, validator Validator, repairer Repairer, opts ...Option) *Executor {
	e := &Executor{
		sandbox:   sandbox,
		database:  database,
		validator: validator,
		repairer:  repairer,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("executor")
	return e
}

// Execute runs one plan.
func (e *Executor) Execute(ctx context.Context, p *plan.Plan) Result {
	start := time.Now()

	script, err := BuildScript(e.database, p)
	if err != nil {
		return failure(qerr.ClassInternal, "executor.script", err)
	}

	out, err := e.sandbox.Run(ctx, script)
	var res Result
	if err != nil {
		res = failure(qerr.ClassExecution, "executor.run", err)
	} else {
		res = ParseOutput(out)
	}
	res.Plan = p

	fields := []zap.Field{
		zap.String("collection", p.Collection),
		zap.String("operation", p.Operation),
		zap.Duration("elapsed", time.Since(start)),
	}
	if res.OK() {
		e.logger.Debug("plan executed", append(fields, zap.Int64("rows", res.RowCount()))...)
	} else {
		e.logger.Info("plan failed", append(fields, zap.String("class", string(res.Class())), zap.Error(res.Err))...)
	}
	return res
}

// ExecuteWithRetry validates and runs q, repairing it at most maxRetries
// times:
//
//	pending → executing → success
//	                    ↘ failed → repairing → executing → ...
//
// Validation rejections are never repaired. A repair that is empty or
// identical to the failed query ends the loop with the original failure,
// without executing anything. It returns the final result and the query
// that produced it.
func (e *Executor) ExecuteWithRetry(ctx context.Context, q generate.Query, known []string, maxRetries int) (Result, generate.Query) {
	state := StatePending
	current := q
	retriesLeft := maxRetries

	for attempt := 1; ; attempt++ {
		state = e.transition(ctx, state, StateExecuting, attempt, current, nil)
		res := e.attempt(ctx, current, known)
		if res.OK() {
			e.transition(ctx, state, StateSuccess, attempt, current, &res)
			return res, current
		}
		state = e.transition(ctx, state, StateFailed, attempt, current, &res)

		if !res.Class().Retryable() || retriesLeft <= 0 || ctx.Err() != nil {
			return res, current
		}
		retriesLeft--

		state = e.transition(ctx, state, StateRepairing, attempt, current, nil)
		repaired, err := e.repairer.Repair(ctx, current, res.Message())
		if err != nil && !qerr.Is(err, qerr.ClassGenerationParse) {
			e.logger.Warn("repair call failed", zap.Error(err))
			e.transition(ctx, state, StateFailed, attempt, current, &res)
			return res, current
		}
		if err := CheckProgress(current, repaired); err != nil {
			e.logger.Info("repair aborted", zap.Error(err), zap.String("query", current.Text))
			e.transition(ctx, state, StateFailed, attempt, current, &res)
			return res, current
		}
		current = repaired
	}
}

// attempt validates and executes one query. Output that mentions a write is
// rejected before anything else, even when it could not be normalized. The
// invalid-output sentinel is never validated or run.
func (e *Executor) attempt(ctx context.Context, q generate.Query, known []string) Result {
	if err := plan.ScreenOutput(q.Raw, q.Text); err != nil {
		return failure(qerr.ClassValidationRejected, "executor.screen", err)
	}
	if q.Invalid() {
		err := q.ParseErr
		if err == nil {
			err = errors.New("invalid output")
		}
		return failure(qerr.ClassGenerationParse, "executor.query", err)
	}

	p, err := e.validator.Validate(q.Text, known)
	if err != nil {
		return failure(qerr.ClassValidationRejected, "executor.validate", err)
	}
	return e.Execute(ctx, p)
}

// CheckProgress returns ErrNoProgress when next is empty or the same query
// as prev.
func CheckProgress(prev, next generate.Query) error {
	raw := strings.TrimSpace(next.Raw)
	if raw == "" && (next.Invalid() || strings.TrimSpace(next.Text) == "") {
		return ErrNoProgress
	}
	if raw != "" && raw == strings.TrimSpace(prev.Raw) {
		return ErrNoProgress
	}
	if !next.Invalid() && !prev.Invalid() && next.Text == prev.Text {
		return ErrNoProgress
	}
	return nil
}

func (e *Executor) transition(ctx context.Context, from, to State, attempt int, q generate.Query, res *Result) State {
	e.logger.Debug("state transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int("attempt", attempt),
	)
	if e.observer != nil {
		e.observer.OnTransition(ctx, Transition{From: from, To: to, Attempt: attempt, Query: q, Result: res})
	}
	return to
}
