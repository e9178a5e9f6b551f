package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Kind classifies a FieldSchema node.
type Kind int

const (
	KindScalar Kind = iota
	KindObject
	KindList
	KindTruncated
)

// String returns the kind name used in logs.
func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindObject:
		return "object"
	case KindList:
		return "list"
	case KindTruncated:
		return "truncated"
	default:
		return "unknown"
	}
}

// UnknownType is the element tag of a list whose first element was never seen.
const UnknownType = "unknown"

// FieldSchema is one node of an inferred schema tree: a scalar type tag, an
// ordered nested object, a list with an element schema, or the truncated
// marker that replaces values found past the depth bound.
type FieldSchema struct {
	Kind   Kind
	Type   string       // scalar type tag (KindScalar only)
	Fields Object       // members (KindObject only)
	Elem   *FieldSchema // element schema (KindList only); nil means unknown
}

// Scalar returns a scalar node.
func Scalar(tag string) *FieldSchema { return &FieldSchema{Kind: KindScalar, Type: tag} }

// Truncated returns the depth-bound marker node.
func Truncated() *FieldSchema { return &FieldSchema{Kind: KindTruncated} }

// ListOf returns a list node. A nil elem renders as "unknown".
func ListOf(elem *FieldSchema) *FieldSchema { return &FieldSchema{Kind: KindList, Elem: elem} }

// ObjectOf returns an object node with the given members.
func ObjectOf(fields ...Field) *FieldSchema { return &FieldSchema{Kind: KindObject, Fields: fields} }

// IsContainer reports whether the node is anything other than a scalar tag.
// Containers are recorded once and never re-inferred.
func (fs *FieldSchema) IsContainer() bool {
	return fs != nil && fs.Kind != KindScalar
}

// Depth returns the number of container levels below and including fs.
func (fs *FieldSchema) Depth() int {
	if fs == nil {
		return 0
	}
	switch fs.Kind {
	case KindObject:
		deepest := 0
		for _, f := range fs.Fields {
			if d := f.Schema.Depth(); d > deepest {
				deepest = d
			}
		}
		return deepest + 1
	case KindList:
		return fs.Elem.Depth() + 1
	default:
		return 0
	}
}

// MarshalJSON renders the node in the grounding payload shape:
// "tag", {"member": ...}, {"list_of": ...} or {"_type":"dict","_truncated":true}.
func (fs *FieldSchema) MarshalJSON() ([]byte, error) {
	if fs == nil {
		return []byte("null"), nil
	}
	switch fs.Kind {
	case KindScalar:
		return json.Marshal(fs.Type)
	case KindObject:
		return fs.Fields.MarshalJSON()
	case KindList:
		if fs.Elem == nil {
			return []byte(`{"list_of":"unknown"}`), nil
		}
		elem, err := fs.Elem.MarshalJSON()
		if err != nil {
			return nil, err
		}
		return append(append([]byte(`{"list_of":`), elem...), '}'), nil
	case KindTruncated:
		return []byte(`{"_type":"dict","_truncated":true}`), nil
	default:
		return nil, fmt.Errorf("schema: unknown kind %d", fs.Kind)
	}
}

// Field is a named member of an Object.
type Field struct {
	Name   string
	Schema *FieldSchema
}

// Object is an ordered set of fields. Order is first-seen order.
type Object []Field

// Get returns the schema of the named member, or nil.
func (o Object) Get(name string) *FieldSchema {
	for _, f := range o {
		if f.Name == name {
			return f.Schema
		}
	}
	return nil
}

// Names returns member names in order.
func (o Object) Names() []string {
	names := make([]string, len(o))
	for i, f := range o {
		names[i] = f.Name
	}
	return names
}

// set replaces the named member in place, or appends it.
func (o *Object) set(name string, fs *FieldSchema) {
	for i := range *o {
		if (*o)[i].Name == name {
			(*o)[i].Schema = fs
			return
		}
	}
	*o = append(*o, Field{Name: name, Schema: fs})
}

// MarshalJSON encodes members as a JSON object in order.
func (o Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := f.Schema.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// TypeTag returns the scalar type tag of a sampled value, using the store's
// type alias names.
func TypeTag(v any) string {
	switch v.(type) {
	case nil, primitive.Null:
		return "null"
	case string:
		return "string"
	case bool:
		return "bool"
	case int32, int, int16, int8:
		return "int"
	case int64:
		return "long"
	case float64, float32:
		return "double"
	case primitive.Decimal128:
		return "decimal"
	case primitive.DateTime, time.Time:
		return "date"
	case primitive.ObjectID:
		return "objectId"
	case primitive.Binary:
		return "binData"
	case primitive.Regex:
		return "regex"
	case primitive.Timestamp:
		return "timestamp"
	case primitive.JavaScript, primitive.CodeWithScope:
		return "javascript"
	case primitive.Symbol:
		return "symbol"
	case primitive.Undefined:
		return "undefined"
	case primitive.MinKey:
		return "minKey"
	case primitive.MaxKey:
		return "maxKey"
	default:
		return fmt.Sprintf("%T", v)
	}
}
