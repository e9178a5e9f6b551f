package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/askdb/internal/event"
)

func testRecord(id, outcome string, minutesAgo int) Record {
	return Record{
		ID:        id,
		Question:  "question " + id,
		Query:     `{"collection":"customers","operation":"count","filter":{}}`,
		Origin:    "initial",
		Outcome:   outcome,
		Rows:      1,
		ElapsedMS: 12,
		CreatedAt: time.Now().Add(-time.Duration(minutesAgo) * time.Minute).Truncate(time.Millisecond).UTC(),
	}
}

// stores runs fn against every Store implementation.
func stores(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("sqlite", func(t *testing.T) {
		s, err := OpenSQLite(context.Background(), ":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
}

func TestStore_WriteAndRecent(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Write(ctx, testRecord("a", OutcomeSuccess, 30)))
		require.NoError(t, s.Write(ctx, testRecord("b", OutcomeFailed, 10)))
		require.NoError(t, s.Write(ctx, testRecord("c", OutcomeSuccess, 20)))

		recs, err := s.Recent(ctx, DefaultQueryOptions())
		require.NoError(t, err)
		require.Len(t, recs, 3)
		assert.Equal(t, []string{"b", "c", "a"}, ids(recs))
		assert.Equal(t, "question b", recs[0].Question)
		assert.EqualValues(t, 12, recs[0].ElapsedMS)
	})
}

func TestStore_RecentFilters(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i, id := range []string{"a", "b", "c", "d"} {
			outcome := OutcomeSuccess
			if i%2 == 1 {
				outcome = OutcomeFailed
			}
			require.NoError(t, s.Write(ctx, testRecord(id, outcome, 40-i*10)))
		}

		recs, err := s.Recent(ctx, QueryOptions{Outcome: OutcomeFailed})
		require.NoError(t, err)
		assert.Equal(t, []string{"d", "b"}, ids(recs))

		since := time.Now().Add(-25 * time.Minute)
		recs, err = s.Recent(ctx, QueryOptions{Since: &since})
		require.NoError(t, err)
		assert.Equal(t, []string{"d", "c"}, ids(recs))

		recs, err = s.Recent(ctx, QueryOptions{Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"d"}, ids(recs))
	})
}

func TestStore_Get(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		want := testRecord("x", OutcomeFailed, 1)
		want.ErrorClass = "execution"
		require.NoError(t, s.Write(ctx, want))

		got, err := s.Get(ctx, "x")
		require.NoError(t, err)
		assert.Equal(t, want.ErrorClass, got.ErrorClass)
		assert.True(t, want.CreatedAt.Equal(got.CreatedAt))

		_, err = s.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSQLStore_AssignsID(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Write(ctx, Record{Question: "q", Outcome: OutcomeSuccess}))
	recs, err := s.Recent(ctx, DefaultQueryOptions())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Len(t, recs[0].ID, 36)
	assert.False(t, recs[0].CreatedAt.IsZero())
}

func TestQueryOptions_Limit(t *testing.T) {
	assert.Equal(t, 20, QueryOptions{}.limit())
	assert.Equal(t, 500, QueryOptions{Limit: 10000}.limit())
	assert.Equal(t, 7, QueryOptions{Limit: 7}.limit())
}

func TestFromEvent(t *testing.T) {
	evt := event.NewRequestCompleted("req-9", event.RequestCompletedPayload{
		Question:  "list customers",
		Query:     `{"intent":"list_customers"}`,
		Origin:    "initial",
		Outcome:   OutcomeSuccess,
		Rows:      5,
		ElapsedMS: 40,
	})
	rec, err := FromEvent(evt)
	require.NoError(t, err)
	assert.Equal(t, "req-9", rec.ID)
	assert.Equal(t, "list customers", rec.Question)
	assert.EqualValues(t, 5, rec.Rows)
	assert.Equal(t, evt.OccurredAt, rec.CreatedAt)

	_, err = FromEvent(event.NewRequestReceived("req-9", "q"))
	assert.Error(t, err)
}

func ids(recs []Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
