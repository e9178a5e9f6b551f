package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/matthewbaird/askdb/internal/docstore"
	"github.com/matthewbaird/askdb/internal/jsonfix"
	"github.com/matthewbaird/askdb/internal/policy"
	"github.com/matthewbaird/askdb/internal/qerr"
)

// ErrRejected marks a candidate the validator refused. Rejections are final:
// they are never sent back to the model for repair.
var ErrRejected = errors.New("query rejected")

// WriteKeywords are refused anywhere in a candidate, compared
// case-insensitively as substrings.
var WriteKeywords = []string{
	"insert", "update", "delete", "remove", "drop",
	"bulkwrite", "replaceone", "replacemany", "updateone", "updatemany",
}

// serverJSOperators run JavaScript on the server.
var serverJSOperators = map[string]bool{
	"$where":       true,
	"$function":    true,
	"$accumulator": true,
}

// readStages are the aggregation stages that cannot modify data.
var readStages = map[string]bool{
	"$match":       true,
	"$project":     true,
	"$sort":        true,
	"$limit":       true,
	"$skip":        true,
	"$count":       true,
	"$group":       true,
	"$unwind":      true,
	"$lookup":      true,
	"$addFields":   true,
	"$set":         true,
	"$unset":       true,
	"$facet":       true,
	"$bucket":      true,
	"$bucketAuto":  true,
	"$sortByCount": true,
	"$sample":      true,
	"$replaceRoot": true,
	"$replaceWith": true,
	"$unionWith":   true,
	"$graphLookup": true,
}

// reshapingStages change document shape, so field names after them no
// longer refer to the source collection.
var reshapingStages = map[string]bool{
	"$project":     true,
	"$group":       true,
	"$unwind":      true,
	"$lookup":      true,
	"$addFields":   true,
	"$set":         true,
	"$unset":       true,
	"$facet":       true,
	"$bucket":      true,
	"$bucketAuto":  true,
	"$sortByCount": true,
	"$replaceRoot": true,
	"$replaceWith": true,
	"$unionWith":   true,
	"$graphLookup": true,
	"$count":       true,
}

// ForbiddenKeyword returns the first write keyword found in text, or "".
func ForbiddenKeyword(text string) string {
	lowered := strings.ToLower(text)
	for _, kw := range WriteKeywords {
		if strings.Contains(lowered, kw) {
			return kw
		}
	}
	return ""
}

// Validator checks candidates against the output contract and the policy.
type Validator struct {
	policy   *policy.Policy
	contract *contract
	logger   *zap.Logger
}

// NewValidator creates a validator for pol.
func NewValidator(pol *policy.Policy, logger *zap.Logger) (*Validator, error) {
	c, err := newContract()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{policy: pol, contract: c, logger: logger.Named("plan")}, nil
}

// Validate turns candidate into a Plan against the known collection names.
// The write-keyword check runs first and on the raw text, so no later stage
// ever sees a candidate that mentions a write.
func (v *Validator) Validate(candidate string, known []string) (*Plan, error) {
	p, err := v.validate(candidate, known)
	if err != nil {
		v.logger.Info("candidate rejected", zap.String("candidate", candidate), zap.Error(err))
		return nil, err
	}
	return p, nil
}

func (v *Validator) validate(candidate string, known []string) (*Plan, error) {
	if kw := ForbiddenKeyword(candidate); kw != "" {
		return nil, reject("write operation '%s' is not allowed", kw)
	}

	var instance any
	if err := json.Unmarshal([]byte(candidate), &instance); err != nil {
		return nil, reject("candidate is not valid JSON: %v", err)
	}
	obj, ok := instance.(map[string]any)
	if !ok {
		return nil, reject("candidate must be a JSON object")
	}
	if err := v.contract.check(obj); err != nil {
		return nil, reject("candidate does not match the output contract: %v", err)
	}

	var p *Plan
	if name, ok := obj["intent"].(string); ok {
		resolved, err := v.expandIntent(name)
		if err != nil {
			return nil, err
		}
		p = resolved
	} else {
		decoded, err := decodeQuery(candidate)
		if err != nil {
			return nil, err
		}
		p = decoded
	}

	if err := v.check(p, known); err != nil {
		return nil, err
	}
	return p, nil
}

// ── intents ─────────────────────────────────────────────────────────────────

func (v *Validator) expandIntent(name string) (*Plan, error) {
	in, ok := v.policy.Intent(name)
	if !ok {
		if s := jsonfix.SuggestFrom(name, v.policy.IntentNames(), 3); s != "" {
			return nil, reject("unknown intent '%s' (%s)", name, s)
		}
		return nil, reject("unknown intent '%s'", name)
	}

	p := &Plan{
		Intent:     name,
		Collection: in.Collection,
		Operation:  in.Operation,
		Filter:     docstore.NormalizeMapOrder(in.Filter),
		Projection: intMapToD(in.Projection),
		Sort:       intMapToD(in.Sort),
		Limit:      in.Limit,
	}
	return p, nil
}

func intMapToD(m map[string]int) bson.D {
	if len(m) == 0 {
		return nil
	}
	anyMap := make(map[string]any, len(m))
	for k, n := range m {
		anyMap[k] = int32(n)
	}
	return docstore.NormalizeMapOrder(anyMap)
}

// ── query decoding ──────────────────────────────────────────────────────────

// decodeQuery reads the candidate as Extended JSON so that {"$oid": ...} and
// {"$date": ...} become native values. A malformed Extended JSON value is a
// syntax problem the model can repair, so it is classified as a generation
// parse failure rather than a rejection.
func decodeQuery(candidate string) (*Plan, error) {
	var raw bson.D
	if err := bson.UnmarshalExtJSON([]byte(candidate), false, &raw); err != nil {
		return nil, qerr.New(qerr.ClassGenerationParse, "plan.decode", fmt.Errorf("invalid extended JSON: %w", err))
	}

	p := &Plan{}
	for _, e := range raw {
		switch e.Key {
		case "collection":
			p.Collection, _ = e.Value.(string)
		case "operation":
			p.Operation, _ = e.Value.(string)
		case "filter":
			p.Filter, _ = e.Value.(bson.D)
		case "projection":
			p.Projection, _ = e.Value.(bson.D)
		case "sort":
			p.Sort, _ = e.Value.(bson.D)
		case "skip":
			p.Skip = toInt(e.Value)
		case "limit":
			p.Limit = toInt(e.Value)
		case "pipeline":
			arr, _ := e.Value.(primitive.A)
			p.Pipeline = make([]bson.D, 0, len(arr))
			for _, item := range arr {
				stage, ok := item.(bson.D)
				if !ok {
					return nil, reject("pipeline stages must be objects")
				}
				p.Pipeline = append(p.Pipeline, stage)
			}
		}
	}
	return p, nil
}

func toInt(v any) int {
	switch n := v.(type) {
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		if n > math.MaxInt32 {
			return math.MaxInt32
		}
		return int(n)
	default:
		return 0
	}
}

// ── semantic checks ─────────────────────────────────────────────────────────

func (v *Validator) check(p *Plan, known []string) error {
	if !slices.Contains(known, p.Collection) {
		if s := jsonfix.SuggestFrom(p.Collection, known, 3); s != "" {
			return reject("unknown collection '%s' (%s)", p.Collection, s)
		}
		return reject("unknown collection '%s'", p.Collection)
	}

	switch p.Operation {
	case policy.OpFind, policy.OpCount:
		if p.Pipeline != nil {
			return reject("pipeline is only valid with the aggregate operation")
		}
	case policy.OpAggregate:
		if len(p.Pipeline) == 0 {
			return reject("aggregate requires a non-empty pipeline")
		}
	default:
		return reject("operation '%s' is not supported (use find, count or aggregate)", p.Operation)
	}
	if !v.policy.AllowsOperation(p.Collection, p.Operation) {
		return reject("operation '%s' is not allowed on collection '%s' (allowed: %s)",
			p.Operation, p.Collection, strings.Join(v.policy.Operations(p.Collection), ", "))
	}

	for _, part := range []any{p.Filter, p.Projection, p.Sort, pipelineValue(p.Pipeline)} {
		if op := findServerJS(part); op != "" {
			return reject("operator '%s' is not allowed", op)
		}
	}

	if p.Operation == policy.OpAggregate {
		if err := v.checkPipeline(p.Collection, p.Pipeline, known); err != nil {
			return err
		}
		// Bound the result set whatever the pipeline does.
		p.Pipeline = append(p.Pipeline, bson.D{{Key: "$limit", Value: int64(v.policy.MaxLimit)}})
		return nil
	}

	if err := v.checkFilterFields(p.Collection, p.Filter); err != nil {
		return err
	}
	if p.Operation == policy.OpCount {
		p.Projection, p.Sort, p.Skip, p.Limit = nil, nil, 0, 0
		return nil
	}
	for _, d := range []bson.D{p.Projection, p.Sort} {
		for _, e := range d {
			if err := v.checkField(p.Collection, e.Key); err != nil {
				return err
			}
		}
	}
	p.Limit = v.policy.ClampLimit(p.Limit)
	return nil
}

func (v *Validator) checkPipeline(collection string, stages []bson.D, known []string) error {
	reshaped := false
	for i, stage := range stages {
		if len(stage) != 1 {
			return reject("pipeline stage %d must have exactly one operator", i)
		}
		name, body := stage[0].Key, stage[0].Value
		if !readStages[name] {
			return reject("pipeline stage '%s' is not allowed", name)
		}

		switch name {
		case "$lookup", "$graphLookup", "$unionWith":
			if err := v.checkForeign(collection, name, body, reshaped, known); err != nil {
				return err
			}
		case "$facet":
			facets, _ := body.(bson.D)
			for _, f := range facets {
				sub, ok := f.Value.(primitive.A)
				if !ok {
					return reject("$facet '%s' must be a pipeline", f.Key)
				}
				subStages := make([]bson.D, 0, len(sub))
				for _, s := range sub {
					d, ok := s.(bson.D)
					if !ok {
						return reject("$facet '%s' stages must be objects", f.Key)
					}
					subStages = append(subStages, d)
				}
				if err := v.checkPipeline(collection, subStages, known); err != nil {
					return err
				}
			}
		case "$match":
			if !reshaped {
				filter, _ := body.(bson.D)
				if err := v.checkFilterFields(collection, filter); err != nil {
					return err
				}
			}
		case "$sort":
			if !reshaped {
				keys, _ := body.(bson.D)
				for _, e := range keys {
					if err := v.checkField(collection, e.Key); err != nil {
						return err
					}
				}
			}
		}
		if reshapingStages[name] {
			reshaped = true
		}
	}
	return nil
}

// foreignFields lists, per cross-collection stage, the option naming the
// foreign collection, the options holding a local field path and the options
// holding a foreign field path.
var foreignFields = map[string]struct {
	coll    string
	local   []string
	foreign []string
}{
	"$lookup":      {coll: "from", local: []string{"localField"}, foreign: []string{"foreignField"}},
	"$graphLookup": {coll: "from", foreign: []string{"connectFromField", "connectToField"}},
	"$unionWith":   {coll: "coll"},
}

// checkForeign applies the policy to a stage that reads another collection.
// The foreign collection must be known and must allow find or aggregate, its
// field paths go through its own field allow-list, and an embedded pipeline is
// checked as if it ran on the foreign collection. Local field paths are only
// checked before the pipeline reshapes documents.
func (v *Validator) checkForeign(collection, stage string, body any, reshaped bool, known []string) error {
	if s, ok := body.(string); ok && stage == "$unionWith" {
		body = bson.D{{Key: "coll", Value: s}}
	}
	doc, ok := body.(bson.D)
	if !ok {
		return reject("%s must be an object", stage)
	}
	fields := foreignFields[stage]

	var (
		foreign  string
		pipeline primitive.A
		hasPipe  bool
	)
	for _, e := range doc {
		switch e.Key {
		case fields.coll:
			foreign, _ = e.Value.(string)
		case "pipeline":
			pipeline, hasPipe = e.Value.(primitive.A)
			if !hasPipe {
				return reject("%s pipeline must be an array", stage)
			}
		}
	}
	if foreign == "" {
		return reject("%s must name a collection in '%s'", stage, fields.coll)
	}
	if !slices.Contains(known, foreign) {
		return reject("%s references unknown collection '%s'", stage, foreign)
	}
	if !v.policy.AllowsOperation(foreign, policy.OpFind) && !v.policy.AllowsOperation(foreign, policy.OpAggregate) {
		return reject("%s reads collection '%s', which allows neither find nor aggregate", stage, foreign)
	}

	for _, e := range doc {
		path, isString := e.Value.(string)
		if !isString {
			continue
		}
		switch {
		case slices.Contains(fields.local, e.Key):
			if !reshaped {
				if err := v.checkField(collection, path); err != nil {
					return err
				}
			}
		case slices.Contains(fields.foreign, e.Key):
			if err := v.checkField(foreign, path); err != nil {
				return err
			}
		}
	}

	if hasPipe {
		stages := make([]bson.D, 0, len(pipeline))
		for _, s := range pipeline {
			d, ok := s.(bson.D)
			if !ok {
				return reject("%s pipeline stages must be objects", stage)
			}
			stages = append(stages, d)
		}
		if err := v.checkPipeline(foreign, stages, known); err != nil {
			return err
		}
	}
	return nil
}

// checkFilterFields checks every field path a filter names, descending into
// $and, $or and $nor.
func (v *Validator) checkFilterFields(collection string, filter bson.D) error {
	for _, e := range filter {
		if !strings.HasPrefix(e.Key, "$") {
			if err := v.checkField(collection, e.Key); err != nil {
				return err
			}
			continue
		}
		clauses, ok := e.Value.(primitive.A)
		if !ok {
			continue
		}
		for _, c := range clauses {
			if d, ok := c.(bson.D); ok {
				if err := v.checkFilterFields(collection, d); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (v *Validator) checkField(collection, path string) error {
	if !v.policy.AllowsField(collection, path) {
		return reject("field '%s' is not allowed on collection '%s'", path, collection)
	}
	return nil
}

// findServerJS returns the first server-side JavaScript operator in v.
func findServerJS(v any) string {
	switch x := v.(type) {
	case bson.D:
		for _, e := range x {
			if serverJSOperators[e.Key] {
				return e.Key
			}
			if op := findServerJS(e.Value); op != "" {
				return op
			}
		}
	case primitive.A:
		for _, item := range x {
			if op := findServerJS(item); op != "" {
				return op
			}
		}
	}
	return ""
}

func pipelineValue(stages []bson.D) any {
	arr := make(primitive.A, len(stages))
	for i, s := range stages {
		arr[i] = s
	}
	return arr
}

func reject(format string, args ...any) error {
	return qerr.New(qerr.ClassValidationRejected, "plan.validate",
		fmt.Errorf("%w: %s", ErrRejected, fmt.Sprintf(format, args...)))
}
