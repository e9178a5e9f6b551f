package jsonfix

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Normalize cleans raw model output and returns it as one compact JSON
// object line. When the text cannot be normalized it returns InvalidOutput
// and an error wrapping ErrInvalidOutput.
func Normalize(raw string) (string, error) {
	obj, err := Parse(raw)
	if err != nil {
		return InvalidOutput, err
	}
	b, err := Encode(obj)
	if err != nil {
		return InvalidOutput, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	return string(b), nil
}

// Parse cleans raw model output and parses it into an ordered Object.
func Parse(raw string) (Object, error) {
	text := Preclean(raw)
	if text == "" {
		return nil, fmt.Errorf("%w: empty output", ErrInvalidOutput)
	}

	tokens, lexErrs := NewLexer(text).Tokenize()
	obj, parseErrs := NewParser(tokens).Parse()
	if errs := append(lexErrs, parseErrs...); len(errs) > 0 {
		return nil, invalid(errs)
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: no query found", ErrInvalidOutput)
	}
	return obj, nil
}

var markdownReplacer = strings.NewReplacer(
	"**", "",
	`\_`, "_",
	`\*`, "*",
)

// Preclean strips markdown decoration: code fences and their language label,
// bold markers, escaped underscores and asterisks, and wrapping backticks.
func Preclean(raw string) string {
	s := strings.TrimSpace(raw)
	s = stripFence(s)
	s = markdownReplacer.Replace(s)
	s = strings.TrimSpace(strings.Trim(s, "`"))
	s = stripLabel(s)
	return strings.TrimSpace(s)
}

// stripFence returns the body of the first ``` fenced block, or s unchanged.
// An unclosed fence keeps everything after the opening line.
func stripFence(s string) string {
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	body := s[start+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		if info := strings.TrimSpace(body[:nl]); !strings.ContainsAny(info, "{[(") {
			body = body[nl+1:]
		}
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return body
}

var labels = []string{"javascript", "mongosh", "mongodb", "json", "mql", "js"}

// stripLabel drops a leading language label such as "json", either alone on
// the first line or directly before the query ("json: {...}").
func stripLabel(s string) string {
	if first, rest, found := strings.Cut(s, "\n"); found {
		label := strings.TrimSuffix(strings.TrimSpace(first), ":")
		for _, l := range labels {
			if strings.EqualFold(label, l) {
				return rest
			}
		}
	}
	for _, l := range labels {
		if len(s) <= len(l) || !strings.EqualFold(s[:len(l)], l) {
			continue
		}
		rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s[len(l):]), ":"))
		if strings.HasPrefix(rest, "{") || strings.HasPrefix(rest, "db.") {
			return rest
		}
	}
	return s
}

// Encode writes v as compact JSON preserving Object member order.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, v any) error {
	switch x := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(x))
	case string:
		return encodeString(buf, x)
	case Number:
		n, err := canonicalNumber(string(x))
		if err != nil {
			return err
		}
		buf.WriteString(n)
	case Object:
		buf.WriteByte('{')
		for i, m := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, m.Key); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := encodeValue(buf, m.Value); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, item := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		return fmt.Errorf("cannot encode %T", v)
	}
	return nil
}

func encodeString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	buf.Truncate(buf.Len() - 1) // Encode appends a newline
	return nil
}

// canonicalNumber rewrites relaxed literals like +5, .5 or 007 as JSON numbers.
func canonicalNumber(lit string) (string, error) {
	if json.Valid([]byte(lit)) {
		return lit, nil
	}
	trimmed := strings.TrimPrefix(lit, "+")
	if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return strconv.FormatInt(i, 10), nil
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return "", fmt.Errorf("invalid number %q", lit)
	}
	return strconv.FormatFloat(f, 'g', -1, 64), nil
}
