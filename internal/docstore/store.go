// Package docstore is the read-only boundary to the document database. It
// exposes only the sampling reads needed for schema and relationship
// discovery; query execution goes through the sandboxed executor instead.
package docstore

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
)

// IDField is the store's internal identity field.
const IDField = "_id"

// ErrNoCollections is returned by discovery when the database is empty.
var ErrNoCollections = errors.New("docstore: no collections")

// Store samples documents from a single database. Every sampling call returns
// documents in ascending _id order so that repeated runs against the same data
// see the same sample.
type Store interface {
	// Database returns the name of the database being sampled.
	Database() string

	// ListCollections returns collection names in sorted order.
	ListCollections(ctx context.Context) ([]string, error)

	// Sample returns up to limit whole documents from a collection.
	Sample(ctx context.Context, collection string, limit int) ([]bson.D, error)

	// SampleValues returns the value of field from up to limit documents in
	// which the field exists.
	SampleValues(ctx context.Context, collection, field string, limit int) ([]any, error)
}

// lookup returns the top-level value of key in doc.
func lookup(doc bson.D, key string) (any, bool) {
	for _, e := range doc {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}
