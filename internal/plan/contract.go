package plan

import (
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// contract holds the resolved JSON Schemas every candidate must satisfy
// before any semantic check runs.
type contract struct {
	intent *jsonschema.Resolved
	query  *jsonschema.Resolved
}

func newContract() (*contract, error) {
	zero := 0.0
	one := 1

	intent := &jsonschema.Schema{
		Type:     "object",
		Required: []string{"intent"},
		Properties: map[string]*jsonschema.Schema{
			"intent": {Type: "string", MinLength: &one},
		},
		AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
	}

	query := &jsonschema.Schema{
		Type:     "object",
		Required: []string{"collection", "operation"},
		Properties: map[string]*jsonschema.Schema{
			"collection": {Type: "string", MinLength: &one},
			"operation":  {Type: "string", MinLength: &one},
			"filter":     {Type: "object"},
			"projection": {Type: "object"},
			"sort":       {Type: "object"},
			"skip":       {Type: "integer", Minimum: &zero},
			"limit":      {Type: "integer", Minimum: &zero},
			"pipeline":   {Type: "array", Items: &jsonschema.Schema{Type: "object"}},
		},
		AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
	}

	ri, err := intent.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("plan: resolve intent schema: %w", err)
	}
	rq, err := query.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("plan: resolve query schema: %w", err)
	}
	return &contract{intent: ri, query: rq}, nil
}

// check validates a decoded JSON object against the intent or the query
// shape, chosen by the presence of the "intent" key.
func (c *contract) check(instance map[string]any) error {
	if _, ok := instance["intent"]; ok {
		return c.intent.Validate(instance)
	}
	return c.query.Validate(instance)
}
