package plan

import (
	"strings"
	"unicode"
)

// writeVerbs are the words that make a question a write request.
var writeVerbs = map[string]bool{
	"insert":   true,
	"update":   true,
	"delete":   true,
	"remove":   true,
	"drop":     true,
	"replace":  true,
	"truncate": true,
	"modify":   true,
	"erase":    true,
}

// ScreenQuestion rejects a question that asks for a write, before any
// generation happens. Only whole words count, so "updates" or "dropdown"
// pass.
func ScreenQuestion(question string) error {
	words := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		if writeVerbs[w] {
			return reject("the question asks to %s data; only read queries are supported", w)
		}
	}
	return nil
}

// ScreenOutput rejects model output that mentions a write operation anywhere.
// It runs on the raw text as well as the normalized one, so output that fails
// normalization is still caught.
func ScreenOutput(texts ...string) error {
	for _, text := range texts {
		if kw := ForbiddenKeyword(text); kw != "" {
			return reject("write operation '%s' is not allowed", kw)
		}
	}
	return nil
}
