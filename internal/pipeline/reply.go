package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/matthewbaird/askdb/internal/docstore"
	"github.com/matthewbaird/askdb/internal/executor"
	"github.com/matthewbaird/askdb/internal/plan"
	"github.com/matthewbaird/askdb/internal/qerr"
)

// maxListed is how many documents a list reply shows.
const maxListed = 5

const (
	msgEmptyQuestion = "Please type a question."
	msgNoData        = "I found no data matching that criteria in the database."
	msgSchema        = "Sorry, I couldn't read the database structure right now. Please try again later."
	msgGeneration    = "Sorry, I couldn't turn that question into a query. Try rephrasing it."
	msgRejected      = "Sorry, I can't run that query: %s"
	msgExecution     = "Sorry, the query could not be run against the database. Try rephrasing the question."
	msgInternal      = "Sorry, something went wrong while answering that question."
)

// Reply is what the caller shows the user. DebugQuery is the query that
// produced the answer, when one was generated.
type Reply struct {
	Reply      string  `json:"reply"`
	DebugQuery *string `json:"mql,omitempty"`
}

// FormatResult renders a successful result as reply text.
func FormatResult(res executor.Result) string {
	if res.Kind == executor.KindCount {
		return fmt.Sprintf("There are %d matching documents.", res.Count)
	}
	if len(res.Rows) == 0 {
		return msgNoData
	}

	var b strings.Builder
	fmt.Fprintf(&b, "I found %d records. Here are the top matches:", len(res.Rows))
	for i, doc := range res.Rows {
		if i == maxListed {
			break
		}
		b.WriteString("\n• ")
		b.WriteString(summarize(doc))
	}
	return b.String()
}

func summarize(doc docstore.Document) string {
	parts := make([]string, len(doc))
	for i, f := range doc {
		parts[i] = f.Key + ": " + formatValue(f.Value)
	}
	return strings.Join(parts, " | ")
}

func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case string:
		return v
	case docstore.Document, []any, map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	default:
		return fmt.Sprint(v)
	}
}

// UserMessage maps a classified failure to text that is safe to show. Store
// and model errors never reach the user; validator reasons do.
func UserMessage(err error) string {
	switch qerr.ClassOf(err) {
	case qerr.ClassSchemaDiscovery:
		return msgSchema
	case qerr.ClassGenerationParse:
		return msgGeneration
	case qerr.ClassValidationRejected:
		return fmt.Sprintf(msgRejected, rejectionReason(err))
	case qerr.ClassExecution, qerr.ClassTransportParse:
		return msgExecution
	default:
		return msgInternal
	}
}

func rejectionReason(err error) string {
	var qe *qerr.Error
	if !errors.As(err, &qe) || qe.Err == nil {
		return err.Error()
	}
	return strings.TrimPrefix(qe.Err.Error(), plan.ErrRejected.Error()+": ")
}
