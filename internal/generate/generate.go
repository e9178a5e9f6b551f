// Package generate asks a language model for one query plan grounded on the
// prior data, and for a syntax-only repair of a failed query.
package generate

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/matthewbaird/askdb/internal/jsonfix"
	"github.com/matthewbaird/askdb/internal/llm"
	"github.com/matthewbaird/askdb/internal/prior"
	"github.com/matthewbaird/askdb/internal/qerr"
)

// Origin tells whether a query came from the first generation or a repair.
type Origin string

const (
	OriginInitial  Origin = "initial"
	OriginRepaired Origin = "repaired"
)

// Query is one generated candidate. Text is the normalized JSON object, or
// jsonfix.InvalidOutput when the model output could not be normalized; Raw
// is the model output as received.
type Query struct {
	Text     string `json:"text"`
	Raw      string `json:"raw"`
	Origin   Origin `json:"origin"`
	ParseErr error  `json:"-"`
}

// Invalid reports whether the query is the invalid-output sentinel. The
// sentinel must never be validated or executed.
func (q Query) Invalid() bool {
	return q.ParseErr != nil || q.Text == jsonfix.InvalidOutput
}

// Source returns the text a repair should start from: the raw model output
// for a sentinel, the normalized text otherwise.
func (q Query) Source() string {
	if q.Invalid() {
		return q.Raw
	}
	return q.Text
}

// Generator produces queries with an llm.Client.
type Generator struct {
	client  llm.Client
	intents []string
	logger  *zap.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithIntents lists the named intents the model may answer with.
func WithIntents(names []string) Option {
	return func(g *Generator) { g.intents = append([]string(nil), names...) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

// New creates a generator.
func New(client llm.Client, opts ...Option) *Generator {
	g := &Generator{client: client, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.Named("generate")
	return g
}

// Generate asks for one query answering pd.Question. A completion that
// cannot be normalized comes back as the sentinel query together with a
// generation parse error.
func (g *Generator) Generate(ctx context.Context, pd prior.PriorData) (Query, error) {
	payload, err := pd.Render()
	if err != nil {
		return Query{}, qerr.New(qerr.ClassInternal, "generate.render", err)
	}

	raw, err := g.client.Complete(ctx, systemPrompt, g.userPrompt(pd.Question, string(payload)))
	if err != nil {
		return Query{}, qerr.New(qerr.ClassInternal, "generate.complete", err)
	}
	return g.normalize(raw, OriginInitial)
}

// Repair asks the model to fix the syntax of bad given the failure message.
func (g *Generator) Repair(ctx context.Context, bad Query, errMessage string) (Query, error) {
	raw, err := g.client.Complete(ctx, repairSystemPrompt, repairPrompt(bad.Source(), errMessage))
	if err != nil {
		return Query{}, qerr.New(qerr.ClassInternal, "generate.repair", err)
	}
	return g.normalize(raw, OriginRepaired)
}

func (g *Generator) normalize(raw string, origin Origin) (Query, error) {
	text, err := jsonfix.Normalize(raw)
	q := Query{Text: text, Raw: raw, Origin: origin}
	if err != nil {
		q.ParseErr = err
		g.logger.Warn("model output rejected by normalizer",
			zap.String("origin", string(origin)),
			zap.String("raw", raw),
			zap.Error(err),
		)
		return q, qerr.New(qerr.ClassGenerationParse, "generate.normalize", err)
	}

	g.logger.Debug("query generated",
		zap.String("origin", string(origin)),
		zap.String("query", text),
	)
	return q, nil
}

const systemPrompt = `You are a MongoDB query generator for a read-only database assistant.

Rules:
- Rely strictly on the provided prior data. Do not assume any fields or collections.
- Output exactly ONE JSON object and nothing else.
- Do not explain. Do not use markdown or code fences.
- Never write, update or delete data.

Output one of these shapes:
{"intent": "<intent name>"}
{"collection": "<name>", "operation": "find", "filter": {...}, "projection": {...}, "sort": {...}, "limit": <n>}
{"collection": "<name>", "operation": "count", "filter": {...}}
{"collection": "<name>", "operation": "aggregate", "pipeline": [...]}

Use {"$oid": "..."} for object ids and {"$date": "..."} for dates.`

func (g *Generator) userPrompt(question, payload string) string {
	var b strings.Builder
	b.WriteString("Convert the following natural language question to one query by strictly referring to the prior data below.\n\n")
	fmt.Fprintf(&b, "Question:\n<%s>\n\n", question)
	fmt.Fprintf(&b, "Prior data (authoritative):\n%s\n\n", payload)
	if len(g.intents) > 0 {
		fmt.Fprintf(&b, "Named intents you may use instead: %s\n\n", strings.Join(g.intents, ", "))
	}
	b.WriteString("Return ONE query only.")
	return b.String()
}

const repairSystemPrompt = `You fix the syntax of MongoDB queries.

Rules:
- Fix syntax only. Keep the collection, fields, conditions and meaning unchanged.
- Output exactly ONE JSON object and nothing else.
- Do not explain. Do not use markdown or code fences.`

func repairPrompt(bad, errMessage string) string {
	return fmt.Sprintf(
		"The following query failed.\n\nError:\n%s\n\nBroken query:\n%s\n\nReturn ONE corrected query only.",
		errMessage, bad,
	)
}
