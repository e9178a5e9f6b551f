package jsonfix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_Tolerated(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "already strict",
			in:   `{"collection": "customers", "operation": "count", "filter": {}}`,
			want: `{"collection":"customers","operation":"count","filter":{}}`,
		},
		{
			name: "code fence with label",
			in:   "```json\n{\"collection\": \"customers\", \"operation\": \"find\"}\n```",
			want: `{"collection":"customers","operation":"find"}`,
		},
		{
			name: "prose around fence",
			in:   "Here you go:\n```\n{\"intent\": \"count_customers\"}\n```\nLet me know!",
			want: `{"intent":"count_customers"}`,
		},
		{
			name: "bold markers and escaped underscores",
			in:   `**{"intent": "list\_customers"}**`,
			want: `{"intent":"list_customers"}`,
		},
		{
			name: "label before object",
			in:   `JSON: {"intent": "count_customers"}`,
			want: `{"intent":"count_customers"}`,
		},
		{
			name: "multi-line key value lines",
			in:   "collection: customers\noperation: find\nlimit: 5",
			want: `{"collection":"customers","operation":"find","limit":5}`,
		},
		{
			name: "missing outer braces around quoted members",
			in:   `"collection": "accounts", "operation": "find", "filter": {"limit": {"$gt": 9000}}`,
			want: `{"collection":"accounts","operation":"find","filter":{"limit":{"$gt":9000}}}`,
		},
		{
			name: "missing closing braces",
			in:   `{"collection": "accounts", "operation": "find", "filter": {"products": "Brokerage"`,
			want: `{"collection":"accounts","operation":"find","filter":{"products":"Brokerage"}}`,
		},
		{
			name: "extra closing brace",
			in:   `{"intent": "count_customers"}}`,
			want: `{"intent":"count_customers"}`,
		},
		{
			name: "trailing commas",
			in:   `{"collection": "customers", "operation": "find", "projection": {"name": 1,},}`,
			want: `{"collection":"customers","operation":"find","projection":{"name":1}}`,
		},
		{
			name: "missing commas",
			in:   "{\n  \"collection\": \"customers\"\n  \"operation\": \"count\"\n}",
			want: `{"collection":"customers","operation":"count"}`,
		},
		{
			name: "unquoted keys and single quotes",
			in:   `{collection: 'customers', operation: 'find', filter: {active: true, $or: [{tier: 'Gold'}]}}`,
			want: `{"collection":"customers","operation":"find","filter":{"active":true,"$or":[{"tier":"Gold"}]}}`,
		},
		{
			name: "dotted bare key",
			in:   `{filter: {tier_and_details.tier: "Gold"}}`,
			want: `{"filter":{"tier_and_details.tier":"Gold"}}`,
		},
		{
			name: "bare multi-word value",
			in:   "collection: customers\nfilter: {name: Elizabeth Ray}",
			want: `{"collection":"customers","filter":{"name":"Elizabeth Ray"}}`,
		},
		{
			name: "relaxed numbers",
			in:   `{limit: +5, ratio: .5, code: 007}`,
			want: `{"limit":5,"ratio":0.5,"code":7}`,
		},
		{
			name: "shell constructors",
			in:   `{filter: {_id: ObjectId("5ca4bbc7a2dd94ee5816238c"), birthdate: {$gte: ISODate("1990-01-01T00:00:00Z")}, limit: NumberInt(5)}}`,
			want: `{"filter":{"_id":{"$oid":"5ca4bbc7a2dd94ee5816238c"},"birthdate":{"$gte":{"$date":"1990-01-01T00:00:00Z"}},"limit":5}}`,
		},
		{
			name: "new Date",
			in:   `{filter: {bucket_start_date: {$lt: new Date("2000-01-01")}}}`,
			want: `{"filter":{"bucket_start_date":{"$lt":{"$date":"2000-01-01"}}}}`,
		},
		{
			name: "comments",
			in:   "{\n  // count everyone\n  \"intent\": \"count_customers\" /* fixed */\n}",
			want: `{"intent":"count_customers"}`,
		},
		{
			name: "capitalized literals",
			in:   `{"filter": {"active": True, "email": None}}`,
			want: `{"filter":{"active":true,"email":null}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize_ShellCalls(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "find with projection sort and limit",
			in:   `db.customers.find({active: true}, {name: 1, _id: 0}).sort({name: 1}).limit(5);`,
			want: `{"collection":"customers","operation":"find","filter":{"active":true},"projection":{"name":1,"_id":0},"sort":{"name":1},"limit":5}`,
		},
		{
			name: "countDocuments",
			in:   `db.customers.countDocuments({})`,
			want: `{"collection":"customers","operation":"count","filter":{}}`,
		},
		{
			name: "find then count",
			in:   `db.accounts.find({limit: 10000}).count()`,
			want: `{"collection":"accounts","operation":"count","filter":{"limit":10000}}`,
		},
		{
			name: "findOne",
			in:   `db.customers.findOne({username: "fmiller"})`,
			want: `{"collection":"customers","operation":"find","filter":{"username":"fmiller"},"limit":1}`,
		},
		{
			name: "aggregate",
			in:   "```javascript\ndb.transactions.aggregate([{$match: {transaction_count: {$gt: 50}}}, {$count: \"n\"}])\n```",
			want: `{"collection":"transactions","operation":"aggregate","pipeline":[{"$match":{"transaction_count":{"$gt":50}}},{"$count":"n"}]}`,
		},
		{
			name: "getCollection",
			in:   `db.getCollection("accounts").find().pretty()`,
			want: `{"collection":"accounts","operation":"find"}`,
		},
		{
			name: "write method passes through",
			in:   `db.customers.deleteMany({})`,
			want: `{"collection":"customers","operation":"deleteMany","filter":{}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize_Rejected(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", "   "},
		{"only fences", "```json\n```"},
		{"prose", "I cannot answer that question."},
		{"array at top level", `[{"intent": "count_customers"}]`},
		{"unterminated string", `{"intent": "count_customers}`},
		{"key without value", `{"intent": }`},
		{"unknown function", `{"filter": {"x": Foo(1)}}`},
		{"unsupported cursor method", `db.customers.find().forEach(printjson)`},
		{"stray characters", `{"intent": "count_customers"} # done`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidOutput)
			assert.Equal(t, InvalidOutput, got)
		})
	}
}

func TestParseError_Position(t *testing.T) {
	_, err := Normalize("{\n  \"intent\": ,\n}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestPreclean(t *testing.T) {
	assert.Equal(t, `{"a":1}`, Preclean("`{\"a\":1}`"))
	assert.Equal(t, `{"a":1}`, Preclean("json\n{\"a\":1}"))
	assert.Equal(t, "db.c.find()", Preclean("```js\ndb.c.find()"))
}

func TestSuggestFrom(t *testing.T) {
	names := []string{"accounts", "customers", "transactions"}
	assert.Equal(t, "did you mean 'customers'?", SuggestFrom("customer", names, 3))
	assert.Equal(t, "did you mean 'accounts'?", SuggestFrom("Acounts", names, 3))
	assert.Empty(t, SuggestFrom("movies", names, 2))
	assert.Equal(t, 3, Levenshtein("kitten", "sitting"))
}
