package docstore

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Field is one key/value pair of a Document.
type Field struct {
	Key   string
	Value any
}

// Document is a transport-safe document that keeps the store's field order.
// Values are plain JSON types, nested Documents, or []any.
type Document []Field

// Get returns the value stored under key.
func (d Document) Get(key string) (any, bool) {
	for _, f := range d {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Keys returns the field names in order.
func (d Document) Keys() []string {
	keys := make([]string, len(d))
	for i, f := range d {
		keys[i] = f.Key
	}
	return keys
}

// MarshalJSON encodes the document as a JSON object in field order.
func (d Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Key, err)
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Normalize converts store-native values into transport-safe ones. Object IDs,
// dates, decimals and other BSON-specific types become strings; the conversion
// recurses through nested documents and arrays.
func Normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case primitive.ObjectID:
		return x.Hex()
	case primitive.DateTime:
		return x.Time().UTC().Format(time.RFC3339Nano)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case primitive.Decimal128:
		return x.String()
	case primitive.Binary:
		return base64.StdEncoding.EncodeToString(x.Data)
	case primitive.Timestamp:
		return time.Unix(int64(x.T), 0).UTC().Format(time.RFC3339)
	case primitive.Regex:
		return "/" + x.Pattern + "/" + x.Options
	case primitive.JavaScript:
		return string(x)
	case primitive.Symbol:
		return string(x)
	case primitive.Null, primitive.Undefined:
		return nil
	case primitive.MinKey:
		return "MinKey"
	case primitive.MaxKey:
		return "MaxKey"
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Sprint(x)
		}
		return x
	case primitive.D:
		return NormalizeDocument(x)
	case primitive.M:
		return normalizeMap(x)
	case map[string]any:
		return normalizeMap(x)
	case primitive.A:
		return normalizeSlice(x)
	case []any:
		return normalizeSlice(x)
	case Document:
		out := make(Document, len(x))
		for i, f := range x {
			out[i] = Field{Key: f.Key, Value: Normalize(f.Value)}
		}
		return out
	default:
		return v
	}
}

// NormalizeDocument converts a BSON document into a transport Document.
func NormalizeDocument(doc bson.D) Document {
	out := make(Document, len(doc))
	for i, e := range doc {
		out[i] = Field{Key: e.Key, Value: Normalize(e.Value)}
	}
	return out
}

func normalizeMap(m map[string]any) Document {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(Document, len(keys))
	for i, k := range keys {
		out[i] = Field{Key: k, Value: Normalize(m[k])}
	}
	return out
}

func normalizeSlice(s []any) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = Normalize(v)
	}
	return out
}

// ValueKey returns a canonical string for v so sampled values from different
// collections can be compared by equality regardless of Go representation.
func ValueKey(v any) string {
	b, err := bson.MarshalExtJSON(bson.D{{Key: "v", Value: v}}, true, false)
	if err != nil {
		return fmt.Sprintf("%T:%v", v, v)
	}
	return string(b)
}

// NormalizeMapOrder turns an unordered map into a document with sorted keys so
// that code walking it sees a stable field order. Values are left as is.
func NormalizeMapOrder(m map[string]any) bson.D {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	doc := make(bson.D, len(keys))
	for i, k := range keys {
		doc[i] = bson.E{Key: k, Value: m[k]}
	}
	return doc
}
