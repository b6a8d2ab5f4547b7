package templatefmt

import (
	"fmt"
	"strings"
	"text/template"
	"time"
	"unicode/utf8"
)

// Ellipsis is appended to truncated text.
const Ellipsis = "..."

// ParseNotificationTemplate compiles a webhook body template.
// Params: template name and body; `truncate N text` is available inside it.
// Returns: compiled template or parse error.
func ParseNotificationTemplate(name, body string) (*template.Template, error) {
	funcs := template.FuncMap{
		"truncate": func(limit int, value string) string { return Truncate(value, limit) },
	}
	return template.New(name).Funcs(funcs).Option("missingkey=error").Parse(body)
}

// Truncate shortens text to limit runes, appending Ellipsis when cut.
// Params: text and rune limit (<= 0 disables truncation).
// Returns: original or truncated text.
func Truncate(value string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(value) <= limit {
		return value
	}
	return string([]rune(value)[:limit]) + Ellipsis
}

// FormatDeadline renders an SLA window as hours and minutes, e.g. "4h", "1h30min", "45min".
func FormatDeadline(window time.Duration) string {
	window = window.Abs().Round(time.Minute)
	if window < time.Minute {
		return "0min"
	}
	hours := int(window / time.Hour)
	minutes := int((window % time.Hour) / time.Minute)

	var b strings.Builder
	if hours > 0 {
		fmt.Fprintf(&b, "%dh", hours)
	}
	if minutes > 0 {
		fmt.Fprintf(&b, "%dmin", minutes)
	}
	return b.String()
}
