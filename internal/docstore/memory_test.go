package docstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestMemoryStore_ListCollectionsSorted(t *testing.T) {
	s := NewMemoryStore("sample")
	s.Insert("transactions", bson.D{{Key: "_id", Value: 1}})
	s.Insert("accounts", bson.D{{Key: "_id", Value: 1}})
	s.Insert("customers", bson.D{{Key: "_id", Value: 1}})

	names, err := s.ListCollections(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"accounts", "customers", "transactions"}, names)
	assert.Equal(t, "sample", s.Database())
}

func TestMemoryStore_SampleLimit(t *testing.T) {
	s := NewMemoryStore("db")
	for i := 0; i < 5; i++ {
		s.Insert("c", bson.D{{Key: "_id", Value: i}})
	}

	docs, err := s.Sample(context.Background(), "c", 3)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, 0, docs[0][0].Value)
	assert.Equal(t, 2, docs[2][0].Value)
}

func TestMemoryStore_SampleValuesSkipsMissing(t *testing.T) {
	s := NewMemoryStore("db")
	s.Insert("c",
		bson.D{{Key: "_id", Value: 1}, {Key: "account_id", Value: 10}},
		bson.D{{Key: "_id", Value: 2}},
		bson.D{{Key: "_id", Value: 3}, {Key: "account_id", Value: 30}},
	)

	values, err := s.SampleValues(context.Background(), "c", "account_id", 20)
	require.NoError(t, err)
	assert.Equal(t, []any{10, 30}, values)

	values, err = s.SampleValues(context.Background(), "c", "account_id", 1)
	require.NoError(t, err)
	assert.Equal(t, []any{10}, values)
}

func TestMemoryStore_FailOn(t *testing.T) {
	s := NewMemoryStore("db")
	s.Insert("c", bson.D{{Key: "_id", Value: 1}})
	boom := errors.New("unreachable")
	s.FailOn("c", boom)

	_, err := s.Sample(context.Background(), "c", 1)
	assert.ErrorIs(t, err, boom)

	s.FailOn("c", nil)
	_, err = s.Sample(context.Background(), "c", 1)
	assert.NoError(t, err)
}
