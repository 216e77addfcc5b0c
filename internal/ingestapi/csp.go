package ingestapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/linnemanlabs/intake/internal/intake"
)

// maxCSPBody bounds violation report bodies. Reports are tiny; anything
// larger is abuse.
const maxCSPBody = 16 * 1024

// handleCSP ingests browser policy-violation reports. Reports are stored for
// manual review and never scored or alerted on.
func (a *API) handleCSP(w http.ResponseWriter, r *http.Request) {
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	if !strings.Contains(ct, "application/json") && !strings.Contains(ct, "application/csp-report") {
		writeJSON(w, http.StatusUnsupportedMediaType, map[string]string{
			"status": "ignored",
			"reason": "unsupported content-type",
		})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCSPBody))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"status": "error",
				"reason": "payload too large",
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "reason": "read failed"})
		return
	}

	meta := requestMeta(r)
	rep, err := intake.NormalizeCSPReport(body, meta)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "reason": "invalid json"})
		return
	}

	if err := a.svc.RecordCSPReport(r.Context(), rep); err != nil {
		// reports are fire-and-forget for the browser; ack anyway
		a.logger.Error(r.Context(), err, "csp report persist failed")
	}

	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusNoContent)
}
