package ingestapi

import (
	"net/http"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/intake/internal/intake"
)

// maxFormMemory bounds the in-memory portion of multipart parsing. File
// contents are discarded either way; only metadata survives.
const maxFormMemory = 1 << 20

func (a *API) handleWebForm(w http.ResponseWriter, r *http.Request) {
	a.acceptForm(w, r)
}

// handleTrap serves the decoy form target. The pipeline is identical to the
// real form; the label falls back to the trap path, which keeps trap traffic
// separable on the dashboard.
func (a *API) handleTrap(w http.ResponseWriter, r *http.Request) {
	a.acceptForm(w, r)
}

func (a *API) acceptForm(w http.ResponseWriter, r *http.Request) {
	form, files, err := parseForm(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"status":  "error",
			"message": "invalid form payload",
		})
		return
	}

	meta := requestMeta(r)
	raw := intake.NormalizeWebForm(form, files, meta)

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("intake.channel", string(raw.Channel)),
		attribute.String("intake.label", raw.Label),
		attribute.Bool("intake.honeypot", raw.HoneypotTripped),
	)

	receipt := a.svc.Submit(r.Context(), raw)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":         "received",
		"classification": receipt.Classification,
		"score":          receipt.Score,
		"reference":      receipt.Reference,
	})
}

// parseForm accepts multipart or urlencoded bodies and returns the textual
// values plus metadata for any file parts.
func parseForm(r *http.Request) (map[string][]string, []intake.FileMeta, error) {
	ct := strings.ToLower(r.Header.Get("Content-Type"))

	if strings.Contains(ct, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxFormMemory); err != nil {
			return nil, nil, err
		}
		files := fileMetas(r)
		return r.MultipartForm.Value, files, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, nil, err
	}
	return r.PostForm, nil, nil
}

func fileMetas(r *http.Request) []intake.FileMeta {
	if r.MultipartForm == nil || len(r.MultipartForm.File) == 0 {
		return nil
	}
	keys := make([]string, 0, len(r.MultipartForm.File))
	for k := range r.MultipartForm.File {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var files []intake.FileMeta
	for _, k := range keys {
		for _, fh := range r.MultipartForm.File[k] {
			files = append(files, intake.FileMeta{
				Field: k,
				Name:  fh.Filename,
				Type:  fh.Header.Get("Content-Type"),
				Size:  fh.Size,
			})
		}
	}
	return files
}
