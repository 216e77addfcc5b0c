package intake

import (
	"encoding/json"
	"net/url"
	"strings"
)

const (
	// FieldValueLimit is the per-value truncation limit, in runes.
	FieldValueLimit = 4096

	// MaxFieldCount bounds the number of distinct field keys kept per
	// submission. Extra keys are dropped at normalization time.
	MaxFieldCount = 64

	// TruncationMarker terminates any truncated value.
	TruncationMarker = "…"
)

// Fields is the bounded, length-truncated mapping of normalized payload
// fields kept on an event for audit and triage. Repeated keys keep one entry
// per submitted value, like url.Values. Fields are opaque to scoring.
type Fields map[string][]string

// Get returns the first value for key, or "".
func (f Fields) Get(key string) string {
	if vs := f[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// Joined returns all values for key joined with a single space.
func (f Fields) Joined(key string) string {
	return strings.Join(f[key], " ")
}

// Clone returns a deep copy that shares no map or slice with f.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, vs := range f {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// FileMeta describes an uploaded file part. File contents are never stored;
// only this metadata survives normalization.
type FileMeta struct {
	Field string `json:"-"`
	Name  string `json:"name"`
	Type  string `json:"type"`
	Size  int64  `json:"size"`
}

// Truncate bounds s to limit runes, appending TruncationMarker when anything
// was cut. The result is exactly limit runes long, so truncating an
// already-truncated value is a no-op.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	marker := []rune(TruncationMarker)
	if limit <= len(marker) {
		return string(marker[:limit])
	}
	return string(runes[:limit-len(marker)]) + TruncationMarker
}

// NormalizeFields converts submitted form values plus file metadata into a
// bounded Fields map. Every value is truncated to FieldValueLimit; file
// parts are replaced by a textual marker carrying name, type and size.
func NormalizeFields(values url.Values, files []FileMeta) Fields {
	fields := make(Fields, len(values))
	n := 0
	for key, vs := range values {
		if n >= MaxFieldCount {
			break
		}
		n++
		out := make([]string, 0, len(vs))
		for _, v := range vs {
			out = append(out, Truncate(v, FieldValueLimit))
		}
		fields[key] = out
	}
	for _, fm := range files {
		if _, ok := fields[fm.Field]; !ok && n >= MaxFieldCount {
			continue
		}
		if _, ok := fields[fm.Field]; !ok {
			n++
		}
		fields[fm.Field] = append(fields[fm.Field], fileMarker(fm))
	}
	return fields
}

// fileMarker renders file metadata the way the audit log stores it,
// e.g. [file:{"name":"a.exe","type":"application/x-msdownload","size":512}].
func fileMarker(fm FileMeta) string {
	meta, err := json.Marshal(fm)
	if err != nil {
		return "[file]"
	}
	return "[file:" + string(meta) + "]"
}
