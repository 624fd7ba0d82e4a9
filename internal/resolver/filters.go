package resolver

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/devrev/screenhub/internal/model"
)

func builtinFilters() map[string]FilterFunc {
	return map[string]FilterFunc{
		"upper":      textFilter(strings.ToUpper),
		"lower":      textFilter(strings.ToLower),
		"trim":       textFilter(strings.TrimSpace),
		"capitalize": textFilter(capitalize),
		"title":      textFilter(title),
		"truncate":   truncate,
		"default":    defaultValue,
		"replace":    replace,
		"split":      split,
		"join":       join,
		"length":     length,
	}
}

func textFilter(fn func(string) string) FilterFunc {
	return func(value any, _ ...string) any {
		if value == nil {
			return value
		}
		return fn(stringify(value))
	}
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

func title(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = capitalize(w)
	}
	return strings.Join(words, " ")
}

// truncate:n[:suffix], suffix defaults to "..."
func truncate(value any, args ...string) any {
	if len(args) == 0 {
		return value
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 {
		return value
	}
	suffix := "..."
	if len(args) > 1 {
		suffix = args[1]
	}

	runes := []rune(stringify(value))
	if len(runes) <= n {
		return string(runes)
	}
	return string(runes[:n]) + suffix
}

// default:x substitutes x for missing or empty values
func defaultValue(value any, args ...string) any {
	if len(args) == 0 {
		return value
	}
	if value == nil {
		return args[0]
	}
	if s, ok := value.(string); ok && s == "" {
		return args[0]
	}
	if d, ok := value.(model.Document); ok && (d.IsNull() || (d.Kind() == model.KindString && d.AsString() == "")) {
		return args[0]
	}
	return value
}

// replace:old:new
func replace(value any, args ...string) any {
	if len(args) < 1 || args[0] == "" || value == nil {
		return value
	}
	repl := ""
	if len(args) > 1 {
		repl = args[1]
	}
	return strings.ReplaceAll(stringify(value), args[0], repl)
}

// split:sep, sep defaults to ","
func split(value any, args ...string) any {
	if value == nil {
		return value
	}
	sep := ","
	if len(args) > 0 && args[0] != "" {
		sep = args[0]
	}
	parts := strings.Split(stringify(value), sep)
	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out
}

// join:sep, sep defaults to ","
func join(value any, args ...string) any {
	sep := ","
	if len(args) > 0 {
		sep = args[0]
	}

	var items []string
	switch t := value.(type) {
	case []any:
		for _, v := range t {
			items = append(items, stringify(v))
		}
	case []string:
		items = t
	case model.Document:
		if t.Kind() != model.KindArray {
			return value
		}
		for _, v := range t.Items() {
			items = append(items, stringify(v))
		}
	default:
		return value
	}
	return strings.Join(items, sep)
}

func length(value any, _ ...string) any {
	switch t := value.(type) {
	case nil:
		return 0
	case string:
		return utf8.RuneCountInString(t)
	case []any:
		return len(t)
	case []string:
		return len(t)
	case map[string]any:
		return len(t)
	case model.Document:
		if t.Kind() == model.KindString {
			return utf8.RuneCountInString(t.AsString())
		}
		return t.Len()
	}
	return value
}
