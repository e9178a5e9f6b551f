// Package pipeline is the single entry point of the question answering
// core: schema grounding, generation, validation, execution and repair.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/matthewbaird/askdb/internal/event"
	"github.com/matthewbaird/askdb/internal/executor"
	"github.com/matthewbaird/askdb/internal/generate"
	"github.com/matthewbaird/askdb/internal/plan"
	"github.com/matthewbaird/askdb/internal/policy"
	"github.com/matthewbaird/askdb/internal/prior"
	"github.com/matthewbaird/askdb/internal/qerr"
)

// Assembler builds the grounding payload for a question.
type Assembler interface {
	Assemble(ctx context.Context, question string) (prior.PriorData, error)
}

// Generator produces the first candidate query.
type Generator interface {
	Generate(ctx context.Context, pd prior.PriorData) (generate.Query, error)
}

// Runner validates, executes and repairs a candidate.
type Runner interface {
	ExecuteWithRetry(ctx context.Context, q generate.Query, known []string, maxRetries int) (executor.Result, generate.Query)
}

// Outcome is everything known about one finished request.
type Outcome struct {
	RequestID string
	Question  string
	// Query is the last query that was attempted. Zero when the request
	// failed before generation.
	Query   generate.Query
	Result  executor.Result
	Elapsed time.Duration
}

// Service wires the stages together.
type Service struct {
	assembler  Assembler
	generator  Generator
	runner     Runner
	policy     *policy.Policy
	publisher  event.Publisher
	maxRetries int
	logger     *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets where request events go.
func WithPublisher(p event.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithMaxRetries sets how many repairs a request may use.
func WithMaxRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a service.
func New(a Assembler, g Generator, r Runner, pol *policy.Policy, opts ...Option) *Service {
	s := &Service{
		assembler:  a,
		generator:  g,
		runner:     r,
		policy:     pol,
		publisher:  event.Discard,
		maxRetries: executor.DefaultMaxRetries,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("pipeline")
	return s
}

// TranslateAndExecute answers question:
//
//	screen → assemble → generate → validate → execute [→ repair → execute]
//
// The returned error is the classified failure of the request, if any; the
// Outcome is always filled in as far as the request got.
func (s *Service) TranslateAndExecute(ctx context.Context, question string) (Outcome, error) {
	ctx, requestID := ensureRequestID(ctx)
	start := time.Now()
	out := Outcome{RequestID: requestID, Question: question}

	emit(ctx, s.publisher, event.NewRequestReceived(requestID, question))

	out.Result, out.Query = s.run(ctx, question)
	out.Elapsed = time.Since(start)
	s.complete(ctx, out)
	return out, out.Result.Err
}

func (s *Service) run(ctx context.Context, question string) (executor.Result, generate.Query) {
	if s.policy != nil && s.policy.ScreenQuestions {
		if err := plan.ScreenQuestion(question); err != nil {
			return executor.Result{Err: err}, generate.Query{}
		}
	}

	pd, err := s.assembler.Assemble(ctx, question)
	if err != nil {
		return executor.Result{Err: classify(qerr.ClassSchemaDiscovery, "pipeline.assemble", err)}, generate.Query{}
	}
	emit(ctx, s.publisher, event.NewPriorAssembled(RequestIDFrom(ctx), event.PriorAssembledPayload{
		Collections:   pd.Collections(),
		Relationships: len(pd.Relationships),
	}))

	q, err := s.generator.Generate(ctx, pd)
	if err != nil && !qerr.Is(err, qerr.ClassGenerationParse) {
		return executor.Result{Err: classify(qerr.ClassInternal, "pipeline.generate", err)}, q
	}
	emit(ctx, s.publisher, event.NewQueryGenerated(RequestIDFrom(ctx), event.QueryGeneratedPayload{
		Query:  q.Source(),
		Origin: string(q.Origin),
		Valid:  !q.Invalid(),
	}))

	return s.runner.ExecuteWithRetry(ctx, q, pd.Collections(), s.maxRetries)
}

func (s *Service) complete(ctx context.Context, out Outcome) {
	p := event.RequestCompletedPayload{
		Question:  out.Question,
		Query:     out.Query.Source(),
		Origin:    string(out.Query.Origin),
		Outcome:   "success",
		Rows:      out.Result.RowCount(),
		ElapsedMS: out.Elapsed.Milliseconds(),
	}
	fields := []zap.Field{
		zap.String("request_id", out.RequestID),
		zap.Duration("elapsed", out.Elapsed),
	}
	if out.Result.OK() {
		s.logger.Info("request answered", append(fields, zap.Int64("rows", p.Rows))...)
	} else {
		p.Outcome = "failed"
		p.Rows = 0
		p.ErrorClass = string(out.Result.Class())
		s.logger.Info("request failed", append(fields, zap.String("class", p.ErrorClass), zap.Error(out.Result.Err))...)
	}
	emit(ctx, s.publisher, event.NewRequestCompleted(out.RequestID, p))
}

// HandleQuestion answers text with a reply that is always safe to show.
// It never returns an error and never panics.
func (s *Service) HandleQuestion(ctx context.Context, text string) (reply Reply) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic while answering", zap.Any("panic", r), zap.Stack("stack"))
			reply = Reply{Reply: msgInternal}
		}
	}()

	question := strings.TrimSpace(text)
	if question == "" {
		return Reply{Reply: msgEmptyQuestion}
	}

	out, err := s.TranslateAndExecute(ctx, question)
	if src := out.Query.Source(); src != "" {
		reply.DebugQuery = &src
	}
	if err != nil {
		reply.Reply = UserMessage(err)
		return reply
	}
	reply.Reply = FormatResult(out.Result)
	return reply
}

// classify keeps an existing class and wraps anything else.
func classify(class qerr.Class, op string, err error) error {
	var qe *qerr.Error
	if errors.As(err, &qe) {
		return err
	}
	return qerr.New(class, op, err)
}
