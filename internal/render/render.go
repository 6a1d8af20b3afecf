// Package render resolves {{field}} merge tags in email and notification
// templates against a contact snapshot.
package render

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/driprun/driprun/pkg/schema"
)

const (
	openTag  = "{{"
	closeTag = "}}"
)

// Render substitutes every {{field}} tag in template with the matching value
// from the snapshot. Unknown fields render as the empty string; an opening
// tag without a closing one is an error.
func Render(template string, snapshot map[string]any) (string, error) {
	if !strings.Contains(template, openTag) {
		return template, nil
	}

	var b strings.Builder
	rest := template
	for {
		start := strings.Index(rest, openTag)
		if start == -1 {
			b.WriteString(rest)
			return b.String(), nil
		}
		b.WriteString(rest[:start])
		rest = rest[start+len(openTag):]

		end := strings.Index(rest, closeTag)
		if end == -1 {
			return "", schema.NewErrorf(schema.ErrCodeDefinition, "unclosed merge tag near %q", truncate(openTag+rest, 30))
		}
		field := strings.TrimSpace(rest[:end])
		rest = rest[end+len(closeTag):]

		b.WriteString(stringify(snapshot[field]))
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	case []string:
		return strings.Join(t, ", ")
	default:
		return fmt.Sprintf("%v", t)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
