// Package policy loads the request allow-list: which collections may be read
// with which operations, which fields may be referenced, and which named
// intents exist.
//
// Policies are written in CUE and unified with an embedded #Policy schema, so
// a typo in a policy file is a load error rather than a silently ignored key.
// A loaded Policy is shared read-only by every request.
package policy

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSource string

//go:embed default.cue
var defaultSource []byte

// Operation names a read operation a plan may perform.
const (
	OpFind      = "find"
	OpCount     = "count"
	OpAggregate = "aggregate"
)

// Collection is the allow-list entry of one collection.
type Collection struct {
	Operations []string `json:"operations"`
	Fields     []string `json:"fields,omitempty"`
}

// Intent is a named, pre-approved query.
type Intent struct {
	Collection string         `json:"collection"`
	Operation  string         `json:"operation"`
	Filter     map[string]any `json:"filter,omitempty"`
	Projection map[string]int `json:"projection,omitempty"`
	Sort       map[string]int `json:"sort,omitempty"`
	Limit      int            `json:"limit,omitempty"`
}

// Policy is the decoded allow-list.
type Policy struct {
	Collections map[string]Collection `json:"collections"`
	// DefaultOperations applies to known collections without an entry.
	// Empty means such collections are rejected.
	DefaultOperations []string          `json:"default_operations"`
	Intents           map[string]Intent `json:"intents"`
	// AllowedOperations is the operation vocabulary shown to the model.
	AllowedOperations []string `json:"allowed_operations"`
	DefaultLimit      int      `json:"default_limit"`
	MaxLimit          int      `json:"max_limit"`
	// ScreenQuestions rejects questions that ask for writes before any
	// generation happens.
	ScreenQuestions bool `json:"screen_questions"`
}

// Default returns the built-in policy.
func Default() *Policy {
	p, err := Parse("default.cue", defaultSource)
	if err != nil {
		panic(fmt.Sprintf("policy: built-in default is invalid: %v", err))
	}
	return p
}

// Load reads a CUE policy file. An empty path returns Default().
func Load(path string) (*Policy, error) {
	if path == "" {
		return Default(), nil
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	return Parse(path, src)
}

// Parse compiles src, unifies it with the #Policy schema and decodes it.
func Parse(filename string, src []byte) (*Policy, error) {
	ctx := cuecontext.New()

	schemaVal := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schemaVal.Err(); err != nil {
		return nil, fmt.Errorf("policy schema: %w", err)
	}
	def := schemaVal.LookupPath(cue.ParsePath("#Policy"))

	data := ctx.CompileBytes(src, cue.Filename(filename))
	if err := data.Err(); err != nil {
		return nil, fmt.Errorf("policy %s: %s", filename, cueerrors.Details(err, nil))
	}

	val := def.Unify(data)
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("policy %s: %s", filename, strings.TrimSpace(cueerrors.Details(err, nil)))
	}

	var p Policy
	if err := val.Decode(&p); err != nil {
		return nil, fmt.Errorf("policy %s: decode: %w", filename, err)
	}
	if p.DefaultLimit > p.MaxLimit {
		return nil, fmt.Errorf("policy %s: default_limit %d exceeds max_limit %d", filename, p.DefaultLimit, p.MaxLimit)
	}
	for name, in := range p.Intents {
		if in.Limit > p.MaxLimit {
			return nil, fmt.Errorf("policy %s: intent %s limit %d exceeds max_limit %d", filename, name, in.Limit, p.MaxLimit)
		}
	}
	return &p, nil
}

// Operations returns the operations allowed on collection.
func (p *Policy) Operations(collection string) []string {
	if c, ok := p.Collections[collection]; ok {
		return c.Operations
	}
	return p.DefaultOperations
}

// AllowsOperation reports whether op may run against collection.
func (p *Policy) AllowsOperation(collection, op string) bool {
	return slices.Contains(p.Operations(collection), op)
}

// AllowsField reports whether a dotted field path may be referenced on
// collection. Only the first path segment is checked. Collections without a
// field list allow every field; the identity field is always allowed.
func (p *Policy) AllowsField(collection, path string) bool {
	c, ok := p.Collections[collection]
	if !ok || len(c.Fields) == 0 {
		return true
	}
	top, _, _ := strings.Cut(path, ".")
	return top == "_id" || slices.Contains(c.Fields, top)
}

// Intent returns a named intent.
func (p *Policy) Intent(name string) (Intent, bool) {
	in, ok := p.Intents[name]
	return in, ok
}

// IntentNames returns intent names in sorted order.
func (p *Policy) IntentNames() []string {
	names := make([]string, 0, len(p.Intents))
	for name := range p.Intents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ClampLimit applies the default to a missing limit and caps it at MaxLimit.
func (p *Policy) ClampLimit(n int) int {
	if n <= 0 {
		return p.DefaultLimit
	}
	return min(n, p.MaxLimit)
}
