package schema

import (
	"context"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/matthewbaird/askdb/internal/docstore"
	"github.com/matthewbaird/askdb/internal/qerr"
)

const (
	// DefaultSampleSize is the number of documents sampled per collection.
	DefaultSampleSize = 30
	// DefaultMaxDepth is the nesting depth at which values are truncated.
	DefaultMaxDepth = 2
)

// Introspector samples a document store and infers per-collection schemas.
type Introspector struct {
	store      docstore.Store
	sampleSize int
	maxDepth   int
	logger     *zap.Logger
}

// Option configures an Introspector.
type Option func(*Introspector)

// WithSampleSize overrides the number of documents sampled per collection.
func WithSampleSize(n int) Option {
	return func(in *Introspector) {
		if n > 0 {
			in.sampleSize = n
		}
	}
}

// WithMaxDepth overrides the depth bound.
func WithMaxDepth(n int) Option {
	return func(in *Introspector) {
		if n > 0 {
			in.maxDepth = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(in *Introspector) {
		if l != nil {
			in.logger = l
		}
	}
}

// NewIntrospector creates an introspector over store.
func NewIntrospector(store docstore.Store, opts ...Option) *Introspector {
	in := &Introspector{
		store:      store,
		sampleSize: DefaultSampleSize,
		maxDepth:   DefaultMaxDepth,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(in)
	}
	in.logger = in.logger.Named("schema")
	return in
}

// Infer introspects every collection in the store. Collections that fail to
// sample are logged and skipped; collections with no fields are omitted.
// It fails with a schema discovery error when the store has no collections or
// none of them yields a schema.
func (in *Introspector) Infer(ctx context.Context) (*Catalog, error) {
	names, err := in.store.ListCollections(ctx)
	if err != nil {
		return nil, qerr.New(qerr.ClassSchemaDiscovery, "schema.Infer", err)
	}
	if len(names) == 0 {
		return nil, qerr.New(qerr.ClassSchemaDiscovery, "schema.Infer", docstore.ErrNoCollections)
	}

	catalog := NewCatalog()
	for _, name := range names {
		cs, err := in.InferCollection(ctx, name, in.sampleSize)
		if err != nil {
			if ctx.Err() != nil {
				return nil, qerr.New(qerr.ClassSchemaDiscovery, "schema.Infer", ctx.Err())
			}
			in.logger.Warn("skipping collection",
				zap.String("collection", name),
				zap.Error(err),
			)
			continue
		}
		if len(cs.Fields) == 0 {
			in.logger.Debug("omitting empty collection", zap.String("collection", name))
			continue
		}
		catalog.Register(cs)
	}

	if catalog.Len() == 0 {
		return nil, qerr.Newf(qerr.ClassSchemaDiscovery, "schema.Infer",
			"no schema inferred from %d collections", len(names))
	}
	in.logger.Debug("schema inferred",
		zap.Int("collections", catalog.Len()),
		zap.Strings("names", catalog.Names()),
	)
	return catalog, nil
}

// InferCollection samples up to sampleSize documents of one collection and
// merges their fields. A field already recorded as a container is never
// re-inferred; scalar tags take the last observed type.
func (in *Introspector) InferCollection(ctx context.Context, collection string, sampleSize int) (*CollectionSchema, error) {
	if sampleSize <= 0 {
		sampleSize = in.sampleSize
	}
	docs, err := in.store.Sample(ctx, collection, sampleSize)
	if err != nil {
		return nil, err
	}

	cs := &CollectionSchema{Name: collection}
	for _, doc := range docs {
		for _, e := range doc {
			if e.Key == docstore.IDField {
				continue
			}
			if cs.Fields.Get(e.Key).IsContainer() {
				continue
			}
			cs.Fields.set(e.Key, in.inferTop(e.Value))
		}
	}
	return cs, nil
}

// inferTop builds the schema of a top-level field. An embedded document and
// the first element of a list both start at depth 0.
func (in *Introspector) inferTop(v any) *FieldSchema {
	switch x := v.(type) {
	case primitive.A:
		return in.inferList([]any(x), 0)
	case []any:
		return in.inferList(x, 0)
	default:
		return in.infer(v, 0)
	}
}

// infer builds the schema of v found at depth. Any value at or past the bound,
// scalar or container, becomes the truncated marker. Members and list
// elements sit one level deeper than their container.
func (in *Introspector) infer(v any, depth int) *FieldSchema {
	if depth >= in.maxDepth {
		return Truncated()
	}
	switch x := v.(type) {
	case primitive.D:
		obj := ObjectOf()
		for _, e := range x {
			obj.Fields.set(e.Key, in.infer(e.Value, depth+1))
		}
		return obj
	case primitive.M:
		return in.infer(docstore.NormalizeMapOrder(x), depth)
	case map[string]any:
		return in.infer(docstore.NormalizeMapOrder(x), depth)
	case primitive.A:
		return in.inferList([]any(x), depth+1)
	case []any:
		return in.inferList(x, depth+1)
	default:
		return Scalar(TypeTag(v))
	}
}

// inferList infers a list whose first element sits at elemDepth.
func (in *Introspector) inferList(items []any, elemDepth int) *FieldSchema {
	if len(items) == 0 {
		return ListOf(nil)
	}
	return ListOf(in.infer(items[0], elemDepth))
}
