// Package plan turns a normalized model candidate into a validated,
// read-only query plan.
package plan

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Plan is the validated, resolved query ready for the executor. A candidate
// naming an intent is expanded into the same shape with Intent set.
type Plan struct {
	Intent     string
	Collection string
	Operation  string // find, count or aggregate

	// For find and count
	Filter bson.D

	// For find
	Projection bson.D
	Sort       bson.D
	Skip       int
	Limit      int

	// For aggregate
	Pipeline []bson.D
}

// IsIntent reports whether the plan came from a named intent.
func (p *Plan) IsIntent() bool { return p.Intent != "" }

// Document returns the plan as an ordered document. Empty parts are omitted;
// the filter is always present for find and count.
func (p *Plan) Document() bson.D {
	doc := bson.D{}
	if p.Intent != "" {
		doc = append(doc, bson.E{Key: "intent", Value: p.Intent})
	}
	doc = append(doc,
		bson.E{Key: "collection", Value: p.Collection},
		bson.E{Key: "operation", Value: p.Operation},
	)

	if p.Operation == "aggregate" {
		stages := make(primitive.A, len(p.Pipeline))
		for i, s := range p.Pipeline {
			stages[i] = s
		}
		return append(doc, bson.E{Key: "pipeline", Value: stages})
	}

	filter := p.Filter
	if filter == nil {
		filter = bson.D{}
	}
	doc = append(doc, bson.E{Key: "filter", Value: filter})
	if p.Operation == "count" {
		return doc
	}
	if len(p.Projection) > 0 {
		doc = append(doc, bson.E{Key: "projection", Value: p.Projection})
	}
	if len(p.Sort) > 0 {
		doc = append(doc, bson.E{Key: "sort", Value: p.Sort})
	}
	if p.Skip > 0 {
		doc = append(doc, bson.E{Key: "skip", Value: int64(p.Skip)})
	}
	if p.Limit > 0 {
		doc = append(doc, bson.E{Key: "limit", Value: int64(p.Limit)})
	}
	return doc
}

// ExtJSON returns the plan in canonical Extended JSON, which keeps every
// BSON type exact.
func (p *Plan) ExtJSON() (string, error) {
	b, err := bson.MarshalExtJSON(p.Document(), true, false)
	if err != nil {
		return "", fmt.Errorf("plan: encode: %w", err)
	}
	return string(b), nil
}

// MarshalJSON renders the plan in relaxed Extended JSON.
func (p *Plan) MarshalJSON() ([]byte, error) {
	return bson.MarshalExtJSON(p.Document(), false, false)
}

// String returns the relaxed JSON form, or a placeholder if encoding fails.
func (p *Plan) String() string {
	b, err := p.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<plan %s.%s>", p.Collection, p.Operation)
	}
	return string(b)
}
