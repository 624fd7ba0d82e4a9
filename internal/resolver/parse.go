package resolver

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/devrev/screenhub/internal/model"
)

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

// segment is either literal text or an expression body
type segment struct {
	text string
	raw  string
	expr bool
}

// scan splits s into literal and expression segments. An unterminated
// opening delimiter is kept as literal text.
func scan(s string) []segment {
	var segs []segment
	for len(s) > 0 {
		start := strings.Index(s, openDelim)
		if start < 0 {
			segs = append(segs, segment{text: s})
			break
		}
		end := strings.Index(s[start+len(openDelim):], closeDelim)
		if end < 0 {
			segs = append(segs, segment{text: s})
			break
		}
		if start > 0 {
			segs = append(segs, segment{text: s[:start]})
		}
		bodyEnd := start + len(openDelim) + end
		segs = append(segs, segment{
			text: strings.TrimSpace(s[start+len(openDelim) : bodyEnd]),
			raw:  s[start : bodyEnd+len(closeDelim)],
			expr: true,
		})
		s = s[bodyEnd+len(closeDelim):]
	}
	return segs
}

type filterCall struct {
	name string
	args []string
}

// parseExpression splits "name | filter:arg:arg | filter" into its parts
func parseExpression(expr string) (string, []filterCall) {
	parts := splitUnquoted(expr, '|')
	name := strings.TrimSpace(parts[0])

	calls := make([]filterCall, 0, len(parts)-1)
	for _, part := range parts[1:] {
		pieces := splitUnquoted(part, ':')
		call := filterCall{name: strings.TrimSpace(pieces[0])}
		if call.name == "" {
			continue
		}
		for _, arg := range pieces[1:] {
			call.args = append(call.args, unquote(arg))
		}
		calls = append(calls, call)
	}
	return name, calls
}

// splitUnquoted splits s on sep, ignoring separators inside single or double quotes
func splitUnquoted(s string, sep byte) []string {
	var out []string
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == sep:
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}

// unquote trims whitespace unless the argument is quoted
func unquote(arg string) string {
	trimmed := strings.TrimSpace(arg)
	if len(trimmed) >= 2 {
		first, last := trimmed[0], trimmed[len(trimmed)-1]
		if (first == '"' || first == '\'') && first == last {
			return trimmed[1 : len(trimmed)-1]
		}
	}
	return trimmed
}

// lookupPath walks nested maps, slices and documents
func lookupPath(root any, path []string) (any, bool) {
	cur := root
	for _, seg := range path {
		next, ok := step(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func step(cur any, seg string) (any, bool) {
	switch t := cur.(type) {
	case map[string]any:
		v, ok := t[seg]
		return v, ok
	case map[string]string:
		v, ok := t[seg]
		return v, ok
	case map[string]model.Document:
		v, ok := t[seg]
		return v, ok
	case []any:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(t) {
			return nil, false
		}
		return t[i], true
	case []string:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(t) {
			return nil, false
		}
		return t[i], true
	case model.Document:
		switch t.Kind() {
		case model.KindMap:
			v, ok := t.Get(seg)
			return v, ok
		case model.KindArray:
			i, err := strconv.Atoi(seg)
			if err != nil {
				return nil, false
			}
			return t.Index(i)
		}
	}
	return nil, false
}

// stringify renders a value for embedding in text
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case time.Time:
		return t.Format(time.RFC3339)
	case model.Document:
		if t.Kind() == model.KindString {
			return t.AsString()
		}
		return t.String()
	}
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return ""
}
