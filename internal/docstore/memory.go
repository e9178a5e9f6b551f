package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
)

// MemoryStore is an in-process Store for tests and offline demos. Documents
// are kept in insertion order, which stands in for _id order.
type MemoryStore struct {
	mu          sync.RWMutex
	database    string
	collections map[string][]bson.D
	failures    map[string]error
}

// NewMemoryStore creates an empty store for database.
func NewMemoryStore(database string) *MemoryStore {
	return &MemoryStore{
		database:    database,
		collections: make(map[string][]bson.D),
		failures:    make(map[string]error),
	}
}

// Insert appends documents to a collection, creating it if needed.
func (s *MemoryStore) Insert(collection string, docs ...bson.D) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[collection] = append(s.collections[collection], docs...)
}

// FailOn makes every read of collection return err. A nil err clears it.
func (s *MemoryStore) FailOn(collection string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, collection)
		return
	}
	s.failures[collection] = err
}

func (s *MemoryStore) Database() string { return s.database }

func (s *MemoryStore) ListCollections(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStore) Sample(_ context.Context, collection string, limit int) ([]bson.D, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failures[collection]; err != nil {
		return nil, fmt.Errorf("sampling %s: %w", collection, err)
	}
	docs := s.collections[collection]
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	out := make([]bson.D, len(docs))
	copy(out, docs)
	return out, nil
}

func (s *MemoryStore) SampleValues(_ context.Context, collection, field string, limit int) ([]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failures[collection]; err != nil {
		return nil, fmt.Errorf("sampling %s: %w", collection, err)
	}
	var values []any
	for _, doc := range s.collections[collection] {
		if limit > 0 && len(values) >= limit {
			break
		}
		if v, ok := lookup(doc, field); ok {
			values = append(values, v)
		}
	}
	return values, nil
}
