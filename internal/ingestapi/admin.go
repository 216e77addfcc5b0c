package ingestapi

import (
	"context"
	_ "embed"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/linnemanlabs/intake/internal/intake"
)

//go:embed dashboard.html
var dashboardHTML string

var dashboardTmpl = template.Must(template.New("dashboard").Parse(dashboardHTML))

// handleDashboard renders the HTML summary for the requested window.
func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	hours := intParam(r, "hours", intake.DefaultWindowHours)

	summary, err := a.reporter.Summarize(r.Context(), hours)
	if err != nil {
		a.internalError(w, r, err, "dashboard summary failed")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := dashboardTmpl.Execute(w, summary); err != nil {
		a.logger.Error(r.Context(), err, "dashboard render failed")
	}
}

// handleStats returns the JSON digest; send=1 additionally mails it.
func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	hours := intParam(r, "hours", intake.DefaultWindowHours)

	digest, err := a.reporter.Digest(r.Context(), hours)
	if err != nil {
		a.internalError(w, r, err, "stats digest failed")
		return
	}

	resp := map[string]any{
		"window_hours": digest.WindowHours,
		"totals": map[string]int64{
			"total":      digest.Total,
			"honey":      digest.Honeypot,
			"suspicious": digest.Suspicious,
		},
		"top_ips": digest.TopIdentities,
		"recent":  digest.Recent,
	}

	if r.URL.Query().Get("send") == "1" {
		resp["sent"] = a.sendDigest(r.Context(), digest)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) sendDigest(ctx context.Context, d *intake.Digest) bool {
	if a.opts.Notifier == nil {
		return false
	}
	subject := fmt.Sprintf("[intake] digest last %dh: %d events, %d honeypot, %d suspicious",
		d.WindowHours, d.Total, d.Honeypot, d.Suspicious)
	if err := a.opts.Notifier.Send(ctx, subject, intake.FormatDigest(d)); err != nil {
		a.logger.Error(ctx, err, "digest mail failed")
		return false
	}
	return true
}

// handlePrune runs retention with the requested (or default) horizon.
func (a *API) handlePrune(w http.ResponseWriter, r *http.Request) {
	days := intParam(r, "days", a.opts.RetentionDays)

	run, err := a.pruner.Run(r.Context(), days)
	if err != nil {
		a.internalError(w, r, err, "retention run failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"run":    run,
	})
}

// handleDiag probes store reachability and reports notifier configuration.
// send=1 fires a test mail.
func (a *API) handleDiag(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"time": time.Now().UTC().Format(time.RFC3339),
		"mail": map[string]any{"configured": a.opts.MailConfigured},
	}

	db := map[string]any{"ok": true}
	summary, err := a.reporter.Summarize(r.Context(), 1)
	if err != nil {
		db["ok"] = false
		if a.debugAllowed(r) {
			db["error"] = err.Error()
		}
	} else {
		db["events_last_hour"] = summary.Total
	}
	resp["db"] = db

	if r.URL.Query().Get("send") == "1" && a.opts.Notifier != nil {
		result := map[string]any{"ok": true}
		body := fmt.Sprintf("db.ok=%v events_last_hour=%v", db["ok"], db["events_last_hour"])
		if err := a.opts.Notifier.Send(r.Context(), "intake diag", body); err != nil {
			result["ok"] = false
			if a.debugAllowed(r) {
				result["error"] = err.Error()
			}
		}
		resp["mail"].(map[string]any)["result"] = result
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) internalError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	a.logger.Error(r.Context(), err, msg)
	body := map[string]string{"error": "internal error"}
	if a.debugAllowed(r) {
		body["detail"] = err.Error()
	}
	writeJSON(w, http.StatusInternalServerError, body)
}

// debugAllowed gates error detail: config must enable it AND the caller must
// ask, so detail never leaks into routine responses.
func (a *API) debugAllowed(r *http.Request) bool {
	return a.opts.DebugErrors && r.URL.Query().Get("debug") == "1"
}

func intParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
