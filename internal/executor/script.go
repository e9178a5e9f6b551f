package executor

import (
	"encoding/json"
	"fmt"

	"github.com/matthewbaird/askdb/internal/plan"
)

// scriptTemplate is the mongosh wrapper. The plan is embedded as a string
// literal and parsed with EJSON, so no model text is ever evaluated as code.
// Every exception is caught and reported under the error marker.
const scriptTemplate = `const plan = EJSON.parse(%s, {relaxed: false});
const target = db.getSiblingDB(%s);
try {
  const coll = target.getCollection(plan.collection);
  let out;
  if (plan.operation === "count") {
    out = {count: coll.countDocuments(plan.filter)};
  } else if (plan.operation === "aggregate") {
    out = {rows: coll.aggregate(plan.pipeline).toArray()};
  } else {
    let cur = coll.find(plan.filter, plan.projection || {});
    if (plan.sort) { cur = cur.sort(plan.sort); }
    if (plan.skip) { cur = cur.skip(Number(plan.skip)); }
    if (plan.limit) { cur = cur.limit(Number(plan.limit)); }
    out = {rows: cur.toArray()};
  }
  print(EJSON.stringify(out, {relaxed: true}));
} catch (e) {
  print(EJSON.stringify({"__error__": String(e)}));
}
`

// BuildScript renders the wrapper script that runs p against database.
func BuildScript(database string, p *plan.Plan) (string, error) {
	doc, err := p.ExtJSON()
	if err != nil {
		return "", err
	}
	planLit, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("quote plan: %w", err)
	}
	dbLit, err := json.Marshal(database)
	if err != nil {
		return "", fmt.Errorf("quote database: %w", err)
	}
	return fmt.Sprintf(scriptTemplate, planLit, dbLit), nil
}
