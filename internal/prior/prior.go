// Package prior assembles the grounding payload handed to query generation:
// inferred schemas, relationship candidates, collections ranked against the
// question, and the operation vocabulary.
package prior

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/matthewbaird/askdb/internal/policy"
	"github.com/matthewbaird/askdb/internal/qerr"
	"github.com/matthewbaird/askdb/internal/rank"
	"github.com/matthewbaird/askdb/internal/relate"
	"github.com/matthewbaird/askdb/internal/schema"
)

// PriorData is the grounding payload for one request. It is built once and
// passed by value; nothing mutates it afterwards.
type PriorData struct {
	Question          string                  `json:"user_question"`
	Ranked            []rank.RankedCollection `json:"ranked_collections"`
	Schemas           *schema.Catalog         `json:"schemas"`
	Relationships     []relate.Candidate      `json:"relationships"`
	AllowedOperations []string                `json:"allowed_operations"`
}

// Collections returns the known collection names in discovery order.
func (p PriorData) Collections() []string {
	if p.Schemas == nil {
		return nil
	}
	return p.Schemas.Names()
}

// Render returns the payload as compact JSON.
func (p PriorData) Render() ([]byte, error) {
	return json.Marshal(p)
}

// Assembler composes introspection, relationship inference and ranking.
type Assembler struct {
	introspector     *schema.Introspector
	inferrer         *relate.Inferrer
	ranker           *rank.Ranker
	policy           *policy.Policy
	relateSampleSize int
	logger           *zap.Logger
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithRelationshipSampleSize sets how many values relationship inference
// samples per side.
func WithRelationshipSampleSize(n int) Option {
	return func(a *Assembler) { a.relateSampleSize = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Assembler) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAssembler creates an assembler.
func NewAssembler(in *schema.Introspector, inf *relate.Inferrer, rk *rank.Ranker, pol *policy.Policy, opts ...Option) *Assembler {
	a := &Assembler{
		introspector:     in,
		inferrer:         inf,
		ranker:           rk,
		policy:           pol,
		relateSampleSize: relate.DefaultSampleSize,
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.Named("prior")
	return a
}

// Assemble builds the grounding payload for question. It fails fast with a
// schema discovery error when the store has no collections or no schema could
// be inferred.
func (a *Assembler) Assemble(ctx context.Context, question string) (PriorData, error) {
	start := time.Now()

	catalog, err := a.introspector.Infer(ctx)
	if err != nil {
		return PriorData{}, err
	}

	rels, err := a.inferrer.Infer(ctx, catalog, a.relateSampleSize)
	if err != nil {
		return PriorData{}, qerr.New(qerr.ClassSchemaDiscovery, "prior.relationships", err)
	}
	if rels == nil {
		rels = []relate.Candidate{}
	}

	ranked, err := a.ranker.Rank(ctx, question, rank.Summaries(catalog))
	if err != nil {
		return PriorData{}, qerr.New(qerr.ClassInternal, "prior.rank", err)
	}

	pd := PriorData{
		Question:          question,
		Ranked:            ranked,
		Schemas:           catalog,
		Relationships:     rels,
		AllowedOperations: slices.Clone(a.policy.AllowedOperations),
	}

	a.logger.Debug("prior data assembled",
		zap.Int("collections", catalog.Len()),
		zap.Int("relationships", len(rels)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return pd, nil
}
