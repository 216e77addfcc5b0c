package ingestapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/linnemanlabs/intake/internal/intake"
)

// handleEmail ingests the SendGrid inbound-parse webhook. The shared secret
// is optional: SendGrid cannot send custom headers on parse posts, so the
// secret may also ride in the query string.
func (a *API) handleEmail(w http.ResponseWriter, r *http.Request) {
	if a.opts.InboundSecret != "" {
		provided := r.Header.Get("X-Inbound-Secret")
		if provided == "" {
			provided = r.URL.Query().Get("secret")
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(a.opts.InboundSecret)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
	}

	ct := strings.ToLower(r.Header.Get("Content-Type"))
	if !strings.Contains(ct, "multipart/form-data") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "expected multipart/form-data"})
		return
	}

	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad form data"})
		return
	}

	meta := requestMeta(r)
	raw := intake.NormalizeEmail(r.MultipartForm.Value, fileMetas(r), meta)

	a.svc.Submit(r.Context(), raw)

	// the webhook sender only needs an ack; scores are internal
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "received"})
}
