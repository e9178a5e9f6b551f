// Package schema infers collection schemas from sampled documents and holds
// them in a Catalog.
//
// A Catalog is built once per request by the Introspector and consumed by
// relationship inference, ranking, generation grounding and the plan
// validator. It is read-only after construction.
package schema

import (
	"bytes"
	"encoding/json"
	"strings"
)

// CollectionSchema is the inferred schema of one collection, excluding the
// identity field.
type CollectionSchema struct {
	Name   string
	Fields Object
}

// FieldNames returns the top-level field names in first-seen order.
func (cs *CollectionSchema) FieldNames() []string {
	return cs.Fields.Names()
}

// Summary renders the text used for relevance ranking:
// "<name>: <field1>, <field2>, ...".
func (cs *CollectionSchema) Summary() string {
	return cs.Name + ": " + strings.Join(cs.FieldNames(), ", ")
}

// Catalog holds collection schemas in discovery order.
type Catalog struct {
	collections map[string]*CollectionSchema
	order       []string
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{collections: make(map[string]*CollectionSchema)}
}

// Register adds a collection schema. Registering a name twice replaces the
// schema but keeps its original position.
func (c *Catalog) Register(cs *CollectionSchema) {
	if _, ok := c.collections[cs.Name]; !ok {
		c.order = append(c.order, cs.Name)
	}
	c.collections[cs.Name] = cs
}

// Collection returns the schema for a named collection, or nil if not found.
func (c *Catalog) Collection(name string) *CollectionSchema {
	return c.collections[name]
}

// Has reports whether the catalog knows the collection.
func (c *Catalog) Has(name string) bool {
	_, ok := c.collections[name]
	return ok
}

// Names returns collection names in discovery order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Collections returns all schemas in discovery order.
func (c *Catalog) Collections() []*CollectionSchema {
	out := make([]*CollectionSchema, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.collections[name])
	}
	return out
}

// Len returns the number of collections.
func (c *Catalog) Len() int { return len(c.order) }

// MarshalJSON encodes the catalog as {"collection": {fields...}, ...} in
// discovery order.
func (c *Catalog) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range c.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := c.collections[name].Fields.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
