package executor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/matthewbaird/askdb/internal/docstore"
	"github.com/matthewbaird/askdb/internal/plan"
	"github.com/matthewbaird/askdb/internal/qerr"
)

// Kind identifies the shape of a successful result.
type Kind string

const (
	KindList  Kind = "list"
	KindCount Kind = "count"
)

// Result is the outcome of one execution: a list of documents, a count, or
// a classified failure.
type Result struct {
	Kind  Kind
	Rows  []docstore.Document
	Count int64
	Err   error

	// Plan is the plan that produced the result, nil when none was built.
	Plan *plan.Plan
}

func listResult(rows []docstore.Document) Result {
	if rows == nil {
		rows = []docstore.Document{}
	}
	return Result{Kind: KindList, Rows: rows}
}

func countResult(n int64) Result {
	return Result{Kind: KindCount, Count: n}
}

func failure(class qerr.Class, op string, err error) Result {
	var qe *qerr.Error
	if errors.As(err, &qe) {
		return Result{Err: err}
	}
	return Result{Err: qerr.New(class, op, err)}
}

// OK reports whether the execution succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Class returns the failure class, or qerr.ClassNone on success.
func (r Result) Class() qerr.Class { return qerr.ClassOf(r.Err) }

// Message returns the failure message without the stage prefix, suitable
// for a repair prompt.
func (r Result) Message() string {
	if r.Err == nil {
		return ""
	}
	var qe *qerr.Error
	if errors.As(r.Err, &qe) && qe.Err != nil {
		return qe.Err.Error()
	}
	return r.Err.Error()
}

// RowCount is the number of documents for a list, or the counted value.
func (r Result) RowCount() int64 {
	if r.Kind == KindCount {
		return r.Count
	}
	return int64(len(r.Rows))
}

// MarshalJSON renders {"type":"list","value":[...]}, {"type":"count","value":n}
// or {"error":"..."}.
func (r Result) MarshalJSON() ([]byte, error) {
	switch {
	case r.Err != nil:
		return json.Marshal(struct {
			Error string `json:"error"`
		}{r.Message()})
	case r.Kind == KindCount:
		return json.Marshal(struct {
			Type  Kind  `json:"type"`
			Value int64 `json:"value"`
		}{KindCount, r.Count})
	default:
		rows := r.Rows
		if rows == nil {
			rows = []docstore.Document{}
		}
		return json.Marshal(struct {
			Type  Kind                 `json:"type"`
			Value []docstore.Document `json:"value"`
		}{KindList, rows})
	}
}

// errorMarker is the key the wrapper script uses to report an exception.
const errorMarker = "__error__"

// ParseOutput reads the wrapper script's stdout. The payload is the last
// non-empty line; anything the shell printed before it is ignored.
func ParseOutput(stdout string) Result {
	line := lastLine(stdout)
	if line == "" {
		return failure(qerr.ClassExecution, "executor.output", errors.New("no output returned from the database shell"))
	}

	var payload bson.D
	if err := bson.UnmarshalExtJSON([]byte(line), false, &payload); err != nil {
		return failure(qerr.ClassTransportParse, "executor.output",
			fmt.Errorf("failed to parse database shell output: %w", err))
	}

	for _, e := range payload {
		switch e.Key {
		case errorMarker:
			return failure(qerr.ClassExecution, "executor.run", fmt.Errorf("%v", e.Value))
		case "count":
			n, ok := asInt64(e.Value)
			if !ok {
				return failure(qerr.ClassTransportParse, "executor.output",
					fmt.Errorf("count is %T, not a number", e.Value))
			}
			return countResult(n)
		case "rows":
			arr, ok := e.Value.(primitive.A)
			if !ok {
				return failure(qerr.ClassTransportParse, "executor.output",
					fmt.Errorf("rows is %T, not an array", e.Value))
			}
			rows := make([]docstore.Document, 0, len(arr))
			for i, item := range arr {
				doc, ok := item.(bson.D)
				if !ok {
					return failure(qerr.ClassTransportParse, "executor.output",
						fmt.Errorf("row %d is %T, not a document", i, item))
				}
				rows = append(rows, docstore.NormalizeDocument(doc))
			}
			return listResult(rows)
		}
	}
	return failure(qerr.ClassTransportParse, "executor.output", errors.New("database shell output has no result"))
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), n == float64(int64(n))
	default:
		return 0, false
	}
}
