package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/matthewbaird/askdb/internal/schema"
)

// DriftKind classifies a mismatch between the policy and the live schema.
type DriftKind string

const (
	DriftMissingCollection DriftKind = "missing_collection"
	DriftMissingField      DriftKind = "missing_field"
	DriftIntent            DriftKind = "intent"
	DriftUncovered         DriftKind = "uncovered_collection"
)

// Drift is one mismatch.
type Drift struct {
	Kind       DriftKind
	Collection string
	Field      string
	Intent     string
	Message    string
}

func (d Drift) String() string { return string(d.Kind) + ": " + d.Message }

// Drift compares the policy with an inferred catalog. Fields are compared on
// their first path segment, the same way AllowsField checks them. A field
// that was absent from every sampled document is reported too, so a small
// sample can produce false positives.
func (p *Policy) Drift(cat *schema.Catalog) []Drift {
	var out []Drift

	for _, name := range sortedKeys(p.Collections) {
		cs := cat.Collection(name)
		if cs == nil {
			out = append(out, Drift{
				Kind:       DriftMissingCollection,
				Collection: name,
				Message:    fmt.Sprintf("collection '%s' is in the policy but not in the database", name),
			})
			continue
		}
		for _, f := range p.Collections[name].Fields {
			if !hasTopField(cs, f) {
				out = append(out, Drift{
					Kind:       DriftMissingField,
					Collection: name,
					Field:      f,
					Message:    fmt.Sprintf("field '%s.%s' is in the policy but was not seen in the sample", name, f),
				})
			}
		}
	}

	for _, name := range p.IntentNames() {
		in := p.Intents[name]
		cs := cat.Collection(in.Collection)
		if cs == nil {
			out = append(out, Drift{
				Kind:       DriftIntent,
				Collection: in.Collection,
				Intent:     name,
				Message:    fmt.Sprintf("intent '%s' targets unknown collection '%s'", name, in.Collection),
			})
			continue
		}
		if !p.AllowsOperation(in.Collection, in.Operation) {
			out = append(out, Drift{
				Kind:       DriftIntent,
				Collection: in.Collection,
				Intent:     name,
				Message:    fmt.Sprintf("intent '%s' uses operation '%s', which the policy does not allow on '%s'", name, in.Operation, in.Collection),
			})
		}
		for _, f := range intentFields(in) {
			if !hasTopField(cs, f) {
				out = append(out, Drift{
					Kind:       DriftIntent,
					Collection: in.Collection,
					Field:      f,
					Intent:     name,
					Message:    fmt.Sprintf("intent '%s' references field '%s.%s', which was not seen in the sample", name, in.Collection, f),
				})
			}
		}
	}

	if len(p.DefaultOperations) == 0 {
		for _, name := range cat.Names() {
			if _, ok := p.Collections[name]; !ok {
				out = append(out, Drift{
					Kind:       DriftUncovered,
					Collection: name,
					Message:    fmt.Sprintf("collection '%s' exists but the policy allows no operation on it", name),
				})
			}
		}
	}
	return out
}

func hasTopField(cs *schema.CollectionSchema, path string) bool {
	top, _, _ := strings.Cut(path, ".")
	return top == "_id" || cs.Fields.Get(top) != nil
}

func intentFields(in Intent) []string {
	seen := map[string]bool{}
	for k := range in.Filter {
		if !strings.HasPrefix(k, "$") {
			seen[k] = true
		}
	}
	for k := range in.Projection {
		seen[k] = true
	}
	for k := range in.Sort {
		seen[k] = true
	}
	return sortedKeys(seen)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
