package intake

import (
	"strings"
	"testing"
	"time"
)

func TestFormatAlert(t *testing.T) {
	t.Parallel()

	ev := &Event{
		Timestamp:       time.Date(2026, 8, 1, 12, 30, 0, 0, time.UTC),
		SourceIdentity:  "203.0.113.7",
		Geo:             Geo{Country: "DE", ASN: 64512, Colo: "FRA"},
		Channel:         ChannelWebForm,
		Label:           "contact",
		HoneypotTripped: true,
		Score:           70,
		Classification:  ClassHoneypot,
		UserAgent:       "curl/8.0",
		Reference:       "ref-9",
		Fields: Fields{
			"name":  {"alice"},
			"notes": {"hello\n\tworld"},
		},
	}

	subject, body := FormatAlert(ev)

	if subject != "[intake] HONEYPOT score 70 — 203.0.113.7 — contact" {
		t.Errorf("subject = %q", subject)
	}

	for _, want := range []string{
		"event=web-form ts=2026-08-01T12:30:00Z",
		"score=70 class=honeypot honey=true",
		"ip=203.0.113.7 country=DE asn=64512 colo=FRA",
		"label=contact",
		"ua=curl/8.0",
		"ref=ref-9",
		"name=alice",
		"notes=hello world",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q\nbody:\n%s", want, body)
		}
	}
}

func TestFormatAlert_MissingMetadata(t *testing.T) {
	t.Parallel()

	ev := &Event{
		Channel:        ChannelSMTP,
		Score:          65,
		Classification: ClassSuspicious,
	}

	subject, body := FormatAlert(ev)

	if subject != "[intake] SUSPICIOUS score 65 — ? — -" {
		t.Errorf("subject = %q", subject)
	}
	if !strings.Contains(body, "ip=? country=- asn=- colo=-") {
		t.Errorf("body missing placeholder line:\n%s", body)
	}
	if strings.Contains(body, "ua=") || strings.Contains(body, "ref=") {
		t.Errorf("empty optional lines rendered:\n%s", body)
	}
}

func TestFieldsPreview_Bounds(t *testing.T) {
	t.Parallel()

	f := Fields{}
	for _, k := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		f[k] = []string{strings.Repeat("v", 300)}
	}

	got := fieldsPreview(f)
	lines := strings.Split(got, "\n")
	if len(lines) != previewMaxKeys {
		t.Fatalf("preview has %d lines, want %d", len(lines), previewMaxKeys)
	}
	// sorted, so the first six keys survive
	if !strings.HasPrefix(lines[0], "a=") || !strings.HasPrefix(lines[5], "f=") {
		t.Errorf("keys not sorted: %v", lines)
	}
	for _, line := range lines {
		_, val, _ := strings.Cut(line, "=")
		if n := len([]rune(val)); n > previewValRunes {
			t.Errorf("value runes = %d, want <= %d", n, previewValRunes)
		}
	}
}

func TestFieldsPreview_Empty(t *testing.T) {
	t.Parallel()

	if got := fieldsPreview(nil); got != "" {
		t.Errorf("preview of nil fields = %q", got)
	}
}

func TestTextPreview(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"collapses whitespace", "a\t\tb\n\nc", 100, "a b c"},
		{"trims edges", "  padded  ", 100, "padded"},
		{"bounds runes", strings.Repeat("x", 20), 5, "xxxx…"},
		{"empty", "", 10, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := TextPreview(tt.in, tt.max); got != tt.want {
				t.Errorf("TextPreview(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
		})
	}
}
