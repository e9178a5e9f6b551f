package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const table = "requests"

const createTable = `CREATE TABLE IF NOT EXISTS requests (
	id          TEXT PRIMARY KEY,
	question    TEXT NOT NULL,
	query       TEXT NOT NULL DEFAULT '',
	origin      TEXT NOT NULL DEFAULT '',
	outcome     TEXT NOT NULL,
	error_class TEXT NOT NULL DEFAULT '',
	row_count   INTEGER NOT NULL DEFAULT 0,
	elapsed_ms  INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL
)`

const createIndex = `CREATE INDEX IF NOT EXISTS requests_created_at ON requests (created_at)`

var columns = []string{"id", "question", "query", "origin", "outcome", "error_class", "row_count", "elapsed_ms", "created_at"}

// SQLStore implements Store on SQLite. Timestamps are stored as unix
// milliseconds.
type SQLStore struct {
	drv *entsql.Driver
}

// OpenSQLite opens (and migrates) the history database at dsn. Use
// ":memory:" for a throwaway store.
func OpenSQLite(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLStore{drv: entsql.OpenDB(dialect.SQLite, db)}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range []string{createTable, createIndex} {
		if err := s.drv.Exec(ctx, stmt, []any{}, nil); err != nil {
			return fmt.Errorf("migrating history database: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error { return s.drv.Close() }

func (s *SQLStore) Write(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	query, args := entsql.Dialect(dialect.SQLite).
		Insert(table).
		Columns(columns...).
		Values(rec.ID, rec.Question, rec.Query, rec.Origin, rec.Outcome, rec.ErrorClass,
			rec.Rows, rec.ElapsedMS, rec.CreatedAt.UnixMilli()).
		Query()
	if err := s.drv.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("writing history record: %w", err)
	}
	return nil
}

func (s *SQLStore) Recent(ctx context.Context, opts QueryOptions) ([]Record, error) {
	sel := entsql.Dialect(dialect.SQLite).
		Select(columns...).
		From(entsql.Table(table))

	var preds []*entsql.Predicate
	if opts.Since != nil {
		preds = append(preds, entsql.GTE("created_at", opts.Since.UnixMilli()))
	}
	if opts.Outcome != "" {
		preds = append(preds, entsql.EQ("outcome", opts.Outcome))
	}
	if len(preds) > 0 {
		sel = sel.Where(entsql.And(preds...))
	}
	query, args := sel.
		OrderBy(entsql.Desc("created_at"), entsql.Desc("rowid")).
		Limit(opts.limit()).
		Query()
	return s.query(ctx, query, args)
}

func (s *SQLStore) Get(ctx context.Context, id string) (Record, error) {
	query, args := entsql.Dialect(dialect.SQLite).
		Select(columns...).
		From(entsql.Table(table)).
		Where(entsql.EQ("id", id)).
		Query()
	recs, err := s.query(ctx, query, args)
	if err != nil {
		return Record{}, err
	}
	if len(recs) == 0 {
		return Record{}, ErrNotFound
	}
	return recs[0], nil
}

func (s *SQLStore) query(ctx context.Context, query string, args []any) ([]Record, error) {
	var rows entsql.Rows
	if err := s.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r       Record
			created int64
		)
		if err := rows.Scan(&r.ID, &r.Question, &r.Query, &r.Origin, &r.Outcome, &r.ErrorClass,
			&r.Rows, &r.ElapsedMS, &created); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		r.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
