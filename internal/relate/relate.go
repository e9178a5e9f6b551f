// Package relate proposes foreign-key-like links between collections by
// sampling field values on both sides and testing for overlap.
//
// The inference is a heuristic: a "medium" link only means the source field
// had values and none of them appeared in the target sample. False negatives
// are expected; false positives are bounded by the sample size.
package relate

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/matthewbaird/askdb/internal/docstore"
	"github.com/matthewbaird/askdb/internal/schema"
)

// DefaultSampleSize is the number of values sampled per side.
const DefaultSampleSize = 20

// Confidence tiers a Candidate.
type Confidence string

const (
	// ConfidenceHigh means the sampled value sets intersect.
	ConfidenceHigh Confidence = "high"
	// ConfidenceMedium means source values exist but no overlap was sampled.
	ConfidenceMedium Confidence = "medium"
)

// Candidate is a proposed link from one collection's field to another
// collection's field.
type Candidate struct {
	FromCollection string     `json:"from_collection"`
	Field          string     `json:"field"`
	ToCollection   string     `json:"to_collection"`
	ToField        string     `json:"to_field"`
	Confidence     Confidence `json:"confidence"`
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s.%s -> %s.%s (%s)", c.FromCollection, c.Field, c.ToCollection, c.ToField, c.Confidence)
}

// Inferrer samples a store to propose relationship candidates.
type Inferrer struct {
	store  docstore.Store
	logger *zap.Logger
}

// NewInferrer creates an inferrer over store.
func NewInferrer(store docstore.Store, logger *zap.Logger) *Inferrer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inferrer{store: store, logger: logger.Named("relate")}
}

// valueSet is the set of canonical value keys sampled from one field.
type valueSet map[string]struct{}

func (s valueSet) intersects(o valueSet) bool {
	small, large := s, o
	if len(large) < len(small) {
		small, large = large, small
	}
	for k := range small {
		if _, ok := large[k]; ok {
			return true
		}
	}
	return false
}

// Infer walks every ordered pair of distinct collections in catalog order.
// For each field of the source it considers the target's name-identical
// field and the target's identity field. A candidate is emitted only when
// the source field yielded values.
func (inf *Inferrer) Infer(ctx context.Context, catalog *schema.Catalog, sampleSize int) ([]Candidate, error) {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}

	cache := make(map[[2]string]valueSet)
	sample := func(collection, field string) (valueSet, error) {
		key := [2]string{collection, field}
		if set, ok := cache[key]; ok {
			return set, nil
		}
		values, err := inf.store.SampleValues(ctx, collection, field, sampleSize)
		if err != nil {
			return nil, fmt.Errorf("sampling %s.%s: %w", collection, field, err)
		}
		set := make(valueSet, len(values))
		for _, v := range values {
			addValue(set, v)
		}
		cache[key] = set
		return set, nil
	}

	var out []Candidate
	collections := catalog.Collections()
	for _, from := range collections {
		for _, field := range from.FieldNames() {
			for _, to := range collections {
				if from.Name == to.Name {
					continue
				}
				for _, toField := range targetFields(field, to) {
					fromValues, err := sample(from.Name, field)
					if err != nil {
						return nil, err
					}
					if len(fromValues) == 0 {
						continue
					}
					toValues, err := sample(to.Name, toField)
					if err != nil {
						return nil, err
					}

					conf := ConfidenceMedium
					if fromValues.intersects(toValues) {
						conf = ConfidenceHigh
					}
					out = append(out, Candidate{
						FromCollection: from.Name,
						Field:          field,
						ToCollection:   to.Name,
						ToField:        toField,
						Confidence:     conf,
					})
				}
			}
		}
	}

	inf.logger.Debug("relationships inferred", zap.Int("candidates", len(out)))
	return out, nil
}

// targetFields returns the fields of to that field may reference: a field of
// the same name, then the identity field.
func targetFields(field string, to *schema.CollectionSchema) []string {
	var fields []string
	if to.Fields.Get(field) != nil {
		fields = append(fields, field)
	}
	if field != docstore.IDField {
		fields = append(fields, docstore.IDField)
	}
	return fields
}

// addValue records v in set. Arrays contribute each element, matching how the
// store indexes array fields.
func addValue(set valueSet, v any) {
	var items []any
	switch x := v.(type) {
	case primitive.A:
		items = x
	case []any:
		items = x
	default:
		set[docstore.ValueKey(v)] = struct{}{}
		return
	}
	for _, item := range items {
		set[docstore.ValueKey(item)] = struct{}{}
	}
}
