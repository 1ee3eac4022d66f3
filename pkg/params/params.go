// Package params substitutes runtime values into operation templates.
//
// A template string "$name" is replaced by the runtime value named name with
// its Go type intact. "$$name" is an escape and yields the literal "$name".
// Every other string is a literal.
package params

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/iSoldLeo/DynamicAPI/pkg/apierr"
	"github.com/iSoldLeo/DynamicAPI/pkg/value"
)

var pathPlaceholder = regexp.MustCompile(`\$([a-zA-Z0-9_]+)`)

// Resolve walks tmpl and returns plain Go values: map[string]any, []any,
// json.Number, bool, nil, string, or whatever the runtime value for a
// placeholder was.
func Resolve(tmpl value.Value, values map[string]any) (any, error) {
	switch tmpl.Kind() {
	case value.KindString:
		s, _ := tmpl.Str()
		return resolveString(s, values)
	case value.KindArray:
		items := tmpl.Items()
		out := make([]any, len(items))
		for i, item := range items {
			v, err := Resolve(item, values)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case value.KindObject:
		return ResolveMap(tmpl.Fields(), values)
	default:
		return tmpl.Interface(), nil
	}
}

// ResolveMap resolves every entry of a parameter map.
func ResolveMap(tmpl map[string]value.Value, values map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(tmpl))
	for k, v := range tmpl {
		resolved, err := Resolve(v, values)
		if err != nil {
			return nil, err
		}
		out[k] = resolved
	}
	return out, nil
}

// ResolveValue resolves a template while keeping the Value representation.
// Substituted runtime values are converted with value.FromAny.
func ResolveValue(tmpl value.Value, values map[string]any) (value.Value, error) {
	switch tmpl.Kind() {
	case value.KindString:
		s, _ := tmpl.Str()
		resolved, err := resolveString(s, values)
		if err != nil {
			return value.Value{}, err
		}
		v, err := value.FromAny(resolved)
		if err != nil {
			name := strings.TrimPrefix(s, "$")
			return value.Value{}, apierr.Parameter(name, fmt.Sprintf("unsupported value: %v", err))
		}
		return v, nil
	case value.KindArray:
		items := tmpl.Items()
		out := make([]value.Value, len(items))
		for i, item := range items {
			v, err := ResolveValue(item, values)
			if err != nil {
				return value.Value{}, err
			}
			out[i] = v
		}
		return value.Array(out...), nil
	case value.KindObject:
		fields := tmpl.Fields()
		out := make(map[string]value.Value, len(fields))
		for k, item := range fields {
			v, err := ResolveValue(item, values)
			if err != nil {
				return value.Value{}, err
			}
			out[k] = v
		}
		return value.Object(out), nil
	default:
		return tmpl, nil
	}
}

// ResolveHeaders resolves header templates and renders each result as text.
func ResolveHeaders(tmpl map[string]string, values map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(tmpl))
	for k, v := range tmpl {
		resolved, err := resolveString(v, values)
		if err != nil {
			return nil, err
		}
		out[k] = Text(resolved)
	}
	return out, nil
}

func resolveString(s string, values map[string]any) (any, error) {
	switch {
	case strings.HasPrefix(s, "$$"):
		return s[1:], nil
	case strings.HasPrefix(s, "$"):
		key := s[1:]
		v, ok := values[key]
		if !ok {
			return nil, apierr.MissingParameter(key)
		}
		return v, nil
	default:
		return s, nil
	}
}

// ResolvePath substitutes every $name occurrence in path. Values are rendered
// with Text and percent-encoded for a single path segment, so a "/" inside a
// value cannot introduce a new segment.
func ResolvePath(path string, values map[string]any) (string, error) {
	var missing string
	out := pathPlaceholder.ReplaceAllStringFunc(path, func(match string) string {
		if missing != "" {
			return match
		}
		key := match[1:]
		v, ok := values[key]
		if !ok {
			missing = key
			return match
		}
		return EscapeSegment(Text(v))
	})
	if missing != "" {
		return "", apierr.MissingParameter(missing)
	}
	return out, nil
}

// Text renders a runtime value the way it appears in paths, query strings and
// headers.
func Text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case uint:
		return strconv.FormatUint(uint64(t), 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case float32:
		return formatFloat(float64(t), 32)
	case float64:
		return formatFloat(t, 64)
	case value.Value:
		return t.Text()
	case fmt.Stringer:
		return t.String()
	case []any, map[string]any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

func formatFloat(f float64, bits int) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, bits)
	}
	return strconv.FormatFloat(f, 'g', -1, bits)
}

// EscapeSegment percent-encodes s so it is safe as one URL path segment.
// Unreserved characters and the sub-delimiters plus ':' and '@' are kept;
// everything else, '/' included, is encoded as %XX with upper-case hex.
func EscapeSegment(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if segmentSafe(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func segmentSafe(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '.', '_', '~', '!', '$', '&', '\'', '(', ')', '*', '+', ',', ';', '=', ':', '@':
		return true
	}
	return false
}
