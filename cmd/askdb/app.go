package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/matthewbaird/askdb/internal/config"
	"github.com/matthewbaird/askdb/internal/docstore"
	"github.com/matthewbaird/askdb/internal/embedding"
	"github.com/matthewbaird/askdb/internal/eventbus"
	"github.com/matthewbaird/askdb/internal/executor"
	"github.com/matthewbaird/askdb/internal/generate"
	"github.com/matthewbaird/askdb/internal/history"
	"github.com/matthewbaird/askdb/internal/llm"
	"github.com/matthewbaird/askdb/internal/pipeline"
	"github.com/matthewbaird/askdb/internal/plan"
	"github.com/matthewbaird/askdb/internal/policy"
	"github.com/matthewbaird/askdb/internal/prior"
	"github.com/matthewbaird/askdb/internal/rank"
	"github.com/matthewbaird/askdb/internal/relate"
	"github.com/matthewbaird/askdb/internal/schema"
)

// app holds every long-lived handle. Handles are built once and released by
// close in reverse order.
type app struct {
	store     *docstore.MongoStore
	history   history.Store
	bus       *eventbus.Bus
	assembler *prior.Assembler
	service   *pipeline.Service

	closers []func()
}

// openHistory opens the configured history store.
func openHistory(ctx context.Context, cfg *config.Config) (history.Store, func(), error) {
	if cfg.History.Driver == config.HistoryMemory {
		return history.NewMemoryStore(), func() {}, nil
	}
	hs, err := history.OpenSQLite(ctx, cfg.History.DSN)
	if err != nil {
		return nil, nil, err
	}
	return hs, func() { hs.Close() }, nil
}

// loadPolicy reads the configured policy file, or returns the built-in one.
func loadPolicy(cfg *config.Config) (*policy.Policy, error) {
	if cfg.Policy.Path == "" {
		return policy.Default(), nil
	}
	return policy.Load(cfg.Policy.Path)
}

// newApp wires the pipeline from cfg. The event bus is started; close stops
// it after draining.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	pol, err := loadPolicy(cfg)
	if err != nil {
		return nil, err
	}

	store, err := docstore.Connect(ctx, cfg.Store.URI, cfg.Store.Database, logger)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, func() { store.Close(context.Background()) })

	hs, closeHistory, err := openHistory(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.history = hs
	a.closers = append(a.closers, closeHistory)

	a.bus = eventbus.New(cfg.Server.EventBuffer, logger)
	a.bus.Subscribe("log", eventbus.NewLogConsumer(logger))
	a.bus.Subscribe("history", eventbus.NewHistoryConsumer(hs))
	a.bus.Start(context.WithoutCancel(ctx))
	a.closers = append(a.closers, a.bus.Stop)

	engine, err := embedding.NewEngine(ctx, cfg.Embedding, logger)
	if err != nil {
		return nil, err
	}
	client, err := llm.NewClient(ctx, cfg.LLM, logger)
	if err != nil {
		return nil, err
	}

	a.assembler = prior.NewAssembler(
		schema.NewIntrospector(store,
			schema.WithSampleSize(cfg.Sampling.SampleSize),
			schema.WithMaxDepth(cfg.Sampling.MaxDepth),
			schema.WithLogger(logger),
		),
		relate.NewInferrer(store, logger),
		rank.New(engine, logger),
		pol,
		prior.WithRelationshipSampleSize(cfg.Sampling.RelationshipSampleSize),
		prior.WithLogger(logger),
	)

	gen := generate.New(client, generate.WithIntents(pol.IntentNames()), generate.WithLogger(logger))
	validator, err := plan.NewValidator(pol, logger)
	if err != nil {
		return nil, err
	}
	exec := executor.New(
		executor.NewShellSandbox(cfg.Sandbox, logger),
		cfg.Store.Database,
		validator,
		gen,
		executor.WithObserver(pipeline.NewObserver(a.bus)),
		executor.WithLogger(logger),
	)

	a.service = pipeline.New(a.assembler, gen, exec, pol,
		pipeline.WithPublisher(a.bus),
		pipeline.WithMaxRetries(cfg.Retry.MaxRetries),
		pipeline.WithLogger(logger),
	)

	ok = true
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
