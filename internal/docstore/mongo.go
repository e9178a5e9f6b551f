package docstore

import (
	"context"
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// MongoStore samples a MongoDB database through the official driver.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

// Connect dials uri and binds to database.
func Connect(ctx context.Context, uri, database string, logger *zap.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to document store: %w", err)
	}
	return NewMongoStore(client, database, logger), nil
}

// NewMongoStore wraps an existing client.
func NewMongoStore(client *mongo.Client, database string, logger *zap.Logger) *MongoStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoStore{
		client: client,
		db:     client.Database(database),
		logger: logger.Named("docstore"),
	}
}

func (s *MongoStore) Database() string { return s.db.Name() }

// Ping checks that the primary is reachable.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) ListCollections(ctx context.Context) ([]string, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MongoStore) Sample(ctx context.Context, collection string, limit int) ([]bson.D, error) {
	return s.find(ctx, collection, bson.D{}, nil, limit)
}

func (s *MongoStore) SampleValues(ctx context.Context, collection, field string, limit int) ([]any, error) {
	filter := bson.D{{Key: field, Value: bson.D{{Key: "$exists", Value: true}}}}
	projection := bson.D{{Key: field, Value: 1}}
	docs, err := s.find(ctx, collection, filter, projection, limit)
	if err != nil {
		return nil, err
	}
	values := make([]any, 0, len(docs))
	for _, doc := range docs {
		if v, ok := lookup(doc, field); ok {
			values = append(values, v)
		}
	}
	return values, nil
}

func (s *MongoStore) find(ctx context.Context, collection string, filter, projection bson.D, limit int) ([]bson.D, error) {
	opts := options.Find().SetSort(bson.D{{Key: IDField, Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	if projection != nil {
		opts.SetProjection(projection)
	}

	cursor, err := s.db.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("sampling %s: %w", collection, err)
	}
	var docs []bson.D
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("reading %s sample: %w", collection, err)
	}
	s.logger.Debug("sampled collection",
		zap.String("collection", collection),
		zap.Int("documents", len(docs)),
	)
	return docs, nil
}
