// Package rank orders collections by how closely their summaries match a
// question in embedding space.
package rank

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/matthewbaird/askdb/internal/embedding"
	"github.com/matthewbaird/askdb/internal/logging"
	"github.com/matthewbaird/askdb/internal/schema"
)

// Summary is the text embedded for one collection.
type Summary struct {
	Name string
	Text string
}

// Summaries builds one summary per catalog collection, in catalog order.
func Summaries(catalog *schema.Catalog) []Summary {
	cols := catalog.Collections()
	out := make([]Summary, len(cols))
	for i, cs := range cols {
		out[i] = Summary{Name: cs.Name, Text: cs.Summary()}
	}
	return out
}

// RankedCollection is a collection with its similarity to the question.
type RankedCollection struct {
	Name  string
	Score float64
}

// MarshalJSON rounds the score to three decimals for the grounding payload.
func (r RankedCollection) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name  string  `json:"name"`
		Score float64 `json:"score"`
	}{r.Name, math.Round(r.Score*1000) / 1000})
}

// Ranker scores collection summaries against a question.
type Ranker struct {
	engine embedding.Engine
	logger *zap.Logger
}

// New creates a ranker using engine for both the question and the summaries.
func New(engine embedding.Engine, logger *zap.Logger) *Ranker {
	logger = logging.OrNop(logger)
	return &Ranker{engine: engine, logger: logger.Named("rank")}
}

// Rank returns every summary scored by cosine similarity, highest first.
// Equal scores keep their input order. No threshold is applied.
func (r *Ranker) Rank(ctx context.Context, question string, summaries []Summary) ([]RankedCollection, error) {
	if len(summaries) == 0 {
		return nil, nil
	}

	texts := make([]string, 0, len(summaries)+1)
	texts = append(texts, question)
	for _, s := range summaries {
		texts = append(texts, s.Text)
	}

	vecs, err := r.engine.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding with %s: %w", r.engine.Name(), err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedding with %s: got %d vectors for %d texts", r.engine.Name(), len(vecs), len(texts))
	}

	q := vecs[0]
	ranked := make([]RankedCollection, len(summaries))
	for i, s := range summaries {
		score, err := embedding.CosineSimilarity(q, vecs[i+1])
		if err != nil {
			return nil, fmt.Errorf("scoring %s: %w", s.Name, err)
		}
		ranked[i] = RankedCollection{Name: s.Name, Score: score}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	if len(ranked) > 0 {
		r.logger.Debug("collections ranked",
			zap.String("top", ranked[0].Name),
			zap.Float64("score", ranked[0].Score),
		)
	}
	return ranked, nil
}
