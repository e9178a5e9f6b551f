package jsonfix

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidOutput marks text that could not be normalized into a query.
var ErrInvalidOutput = errors.New("invalid output")

// InvalidOutput is the sentinel query text reported in place of output that
// could not be normalized. It is never a valid query.
const InvalidOutput = `{"error": "invalid output"}`

// ParseError is a structured error with position information and an
// optional suggestion.
type ParseError struct {
	Message    string
	Line       int
	Col        int
	Pos        int
	Suggestion string // "did you mean 'customers'?" or ""
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("line %d col %d: %s", e.Line, e.Col, e.Message)
	if e.Suggestion != "" {
		msg += " (" + e.Suggestion + ")"
	}
	return msg
}

func newParseErrorf(tok Token, format string, args ...any) *ParseError {
	return &ParseError{
		Message: fmt.Sprintf(format, args...),
		Line:    tok.Line,
		Col:     tok.Col,
		Pos:     tok.Pos,
	}
}

// invalid wraps parse errors so callers can match ErrInvalidOutput while
// still seeing the first few positions.
func invalid(errs []*ParseError) error {
	if len(errs) == 0 {
		return ErrInvalidOutput
	}
	msgs := make([]string, 0, 3)
	for i, e := range errs {
		if i == 3 {
			msgs = append(msgs, fmt.Sprintf("and %d more", len(errs)-3))
			break
		}
		msgs = append(msgs, e.Error())
	}
	return fmt.Errorf("%w: %s", ErrInvalidOutput, strings.Join(msgs, "; "))
}

// Levenshtein computes the edit distance between two strings.
func Levenshtein(a, b string) int {
	la, lb := len(a), len(b)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}

	prev := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}

	for i := 1; i <= la; i++ {
		curr := make([]int, lb+1)
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev = curr
	}
	return prev[lb]
}

// SuggestFrom finds the closest match from candidates within a maximum
// edit distance. Returns "" if no good match is found.
func SuggestFrom(input string, candidates []string, maxDist int) string {
	best := ""
	bestDist := maxDist + 1
	for _, c := range candidates {
		if d := Levenshtein(strings.ToLower(input), strings.ToLower(c)); d < bestDist {
			bestDist = d
			best = c
		}
	}
	if bestDist <= maxDist {
		return fmt.Sprintf("did you mean '%s'?", best)
	}
	return ""
}
