package intake

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	previewRunes    = 240
	previewMaxKeys  = 6
	previewValRunes = 120
)

// FormatAlert renders the operator notification for a triggering event:
// a one-line subject and a plaintext body with the event's metadata and a
// bounded preview of its free-text fields.
func FormatAlert(ev *Event) (subject, body string) {
	identity := ev.SourceIdentity
	if identity == "" {
		identity = "?"
	}
	label := ev.Label
	if label == "" {
		label = "-"
	}

	subject = fmt.Sprintf("[intake] %s score %d — %s — %s",
		strings.ToUpper(string(ev.Classification)), ev.Score, identity, label)

	lines := []string{
		fmt.Sprintf("event=%s ts=%s", ev.Channel, ev.Timestamp.UTC().Format(time.RFC3339)),
		fmt.Sprintf("score=%d class=%s honey=%v", ev.Score, ev.Classification, ev.HoneypotTripped),
		fmt.Sprintf("ip=%s country=%s asn=%s colo=%s",
			identity, orDash(ev.Geo.Country), asnOrDash(ev.Geo.ASN), orDash(ev.Geo.Colo)),
		fmt.Sprintf("label=%s", label),
	}
	if ev.UserAgent != "" {
		lines = append(lines, "ua="+TextPreview(ev.UserAgent, 160))
	}
	if ev.Reference != "" {
		lines = append(lines, "ref="+ev.Reference)
	}
	if p := fieldsPreview(ev.Fields); p != "" {
		lines = append(lines, p)
	}

	return subject, strings.Join(lines, "\n")
}

// fieldsPreview renders a bounded, deterministic preview of the event's
// normalized fields: up to previewMaxKeys keys in sorted order, each value
// previewed to previewValRunes.
func fieldsPreview(f Fields) string {
	if len(f) == 0 {
		return ""
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > previewMaxKeys {
		keys = keys[:previewMaxKeys]
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+TextPreview(f.Joined(k), previewValRunes))
	}
	return strings.Join(parts, "\n")
}

var collapseSpaceRe = regexp.MustCompile(`\s+`)

// TextPreview collapses whitespace and bounds s to max runes for inclusion
// in notification bodies and digests.
func TextPreview(s string, max int) string {
	clean := strings.TrimSpace(collapseSpaceRe.ReplaceAllString(s, " "))
	return Truncate(clean, max)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func asnOrDash(asn int64) string {
	if asn == 0 {
		return "-"
	}
	return fmt.Sprintf("%d", asn)
}
