package templatefmt

import (
	"strings"
	"testing"
	"time"
)

func TestTruncateCountsRunes(t *testing.T) {
	t.Parallel()

	short := "Pneu furado"
	if got := Truncate(short, 50); got != short {
		t.Fatalf("short text must stay intact, got %q", got)
	}
	long := strings.Repeat("ç", 60)
	got := Truncate(long, 50)
	if got != strings.Repeat("ç", 50)+Ellipsis {
		t.Fatalf("unexpected truncation %q", got)
	}
	if Truncate(long, 0) != long {
		t.Fatalf("zero limit must disable truncation")
	}
}

func TestFormatDeadline(t *testing.T) {
	t.Parallel()

	tests := []struct {
		window time.Duration
		want   string
	}{
		{time.Hour, "1h"},
		{4 * time.Hour, "4h"},
		{90 * time.Minute, "1h30min"},
		{45 * time.Minute, "45min"},
		{-2 * time.Hour, "2h"},
		{10 * time.Second, "0min"},
	}
	for _, tt := range tests {
		if got := FormatDeadline(tt.window); got != tt.want {
			t.Fatalf("FormatDeadline(%s) = %q, want %q", tt.window, got, tt.want)
		}
	}
}

func TestParseNotificationTemplateTruncates(t *testing.T) {
	t.Parallel()

	tmpl, err := ParseNotificationTemplate("body", `{{ .Title }}: {{ truncate 4 .Message }}`)
	if err != nil {
		t.Fatalf("parse template: %v", err)
	}
	var out strings.Builder
	data := map[string]string{"Title": "Nova ocorrência", "Message": "vazamento"}
	if err := tmpl.Execute(&out, data); err != nil {
		t.Fatalf("execute template: %v", err)
	}
	if out.String() != `Nova ocorrência: vaza...` {
		t.Fatalf("unexpected render %q", out.String())
	}
	if _, err := ParseNotificationTemplate("bad", "{{ .Title "); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := ParseNotificationTemplate("json", "{{ json .Title }}"); err == nil {
		t.Fatalf("only truncate is available to notification templates")
	}
}
