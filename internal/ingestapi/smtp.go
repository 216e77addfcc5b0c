package ingestapi

import (
	"encoding/json"
	"net/http"

	"github.com/linnemanlabs/intake/internal/intake"
)

// handleSMTP ingests the JSON notification the SMTP gateway posts for every
// accepted message.
func (a *API) handleSMTP(w http.ResponseWriter, r *http.Request) {
	var payload intake.SMTPPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	meta := requestMeta(r)
	raw := intake.NormalizeSMTP(&payload, meta)

	a.svc.Submit(r.Context(), raw)

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "received"})
}
