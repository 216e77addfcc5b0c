package ingestapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/intake/internal/intake"
)

type stubService struct {
	mu        sync.Mutex
	submitted []*intake.RawIntake
	reports   []*intake.CSPReport
	receipt   intake.Receipt
	cspErr    error
}

func (s *stubService) Submit(_ context.Context, raw *intake.RawIntake) *intake.Receipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = append(s.submitted, raw)
	r := s.receipt
	return &r
}

func (s *stubService) RecordCSPReport(_ context.Context, rep *intake.CSPReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cspErr != nil {
		return s.cspErr
	}
	s.reports = append(s.reports, rep)
	return nil
}

func (s *stubService) lastSubmitted(t *testing.T) *intake.RawIntake {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.submitted) == 0 {
		t.Fatal("nothing submitted")
	}
	return s.submitted[len(s.submitted)-1]
}

type stubReporter struct {
	summary *intake.Summary
	digest  *intake.Digest
	err     error
}

func (r *stubReporter) Summarize(_ context.Context, hours int) (*intake.Summary, error) {
	if r.err != nil {
		return nil, r.err
	}
	s := *r.summary
	s.WindowHours = intake.ClampWindowHours(hours)
	return &s, nil
}

func (r *stubReporter) Digest(_ context.Context, hours int) (*intake.Digest, error) {
	if r.err != nil {
		return nil, r.err
	}
	d := *r.digest
	d.WindowHours = intake.ClampWindowHours(hours)
	return &d, nil
}

type stubPruner struct {
	mu       sync.Mutex
	lastDays int
	run      *intake.RetentionRun
	err      error
}

func (p *stubPruner) Run(_ context.Context, days int) (*intake.RetentionRun, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastDays = days
	if p.err != nil {
		return nil, p.err
	}
	return p.run, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	subjects []string
	err      error
}

func (n *recordingNotifier) Send(_ context.Context, subject, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.subjects = append(n.subjects, subject)
	return nil
}

type testEnv struct {
	svc      *stubService
	reporter *stubReporter
	pruner   *stubPruner
	handler  http.Handler
}

func newTestEnv(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()

	svc := &stubService{
		receipt: intake.Receipt{
			EventID:        1,
			Reference:      "ref-test",
			Score:          10,
			Classification: intake.ClassObserved,
		},
	}
	reporter := &stubReporter{
		summary: &intake.Summary{Total: 3, Honeypot: 1, Suspicious: 1, Threshold: 60},
		digest:  &intake.Digest{Total: 3, Honeypot: 1, Suspicious: 1},
	}
	pruner := &stubPruner{
		run: &intake.RetentionRun{RanAt: time.Now().UTC(), RetentionDays: 14, Deleted: 2},
	}

	opts := Options{DigestSecret: "admin-secret", RetentionDays: 14}
	if mutate != nil {
		mutate(&opts)
	}

	api := New(nil, svc, reporter, pruner, opts)
	r := chi.NewRouter()
	api.RegisterRoutes(r)

	return &testEnv{svc: svc, reporter: reporter, pruner: pruner, handler: r}
}

func (env *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return m
}

func formRequest(path string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func multipartRequest(t *testing.T, path string, fields map[string]string, files map[string][2]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	for field, nameAndBody := range files {
		fw, err := mw.CreateFormFile(field, nameAndBody[0])
		if err != nil {
			t.Fatalf("create file part: %v", err)
		}
		if _, err := fw.Write([]byte(nameAndBody[1])); err != nil {
			t.Fatalf("write file part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestWebForm_Accepted(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	req := formRequest("/api/inbound", url.Values{
		"form_id": {"contact"},
		"name":    {"alice"},
		"notes":   {"hello"},
	})
	req.Header.Set("CF-Connecting-IP", "203.0.113.10")
	req.Header.Set("CF-IPCountry", "DE")
	req.Header.Set("CF-Ray", "8f2a1b3c4d5e6f70-FRA")

	rec := env.do(req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeJSON(t, rec)
	if body["status"] != "received" {
		t.Errorf("status field = %v", body["status"])
	}
	if body["classification"] != "observed" || body["score"] != float64(10) {
		t.Errorf("body = %v", body)
	}
	if body["reference"] != "ref-test" {
		t.Errorf("reference = %v", body["reference"])
	}

	raw := env.svc.lastSubmitted(t)
	if raw.Channel != intake.ChannelWebForm {
		t.Errorf("channel = %q", raw.Channel)
	}
	if raw.SourceIdentity != "203.0.113.10" {
		t.Errorf("identity = %q", raw.SourceIdentity)
	}
	if raw.Geo.Country != "DE" || raw.Geo.Colo != "FRA" {
		t.Errorf("geo = %+v", raw.Geo)
	}
	if raw.Reference != "8f2a1b3c4d5e6f70-FRA" {
		t.Errorf("reference = %q", raw.Reference)
	}
	if raw.Label != "contact" {
		t.Errorf("label = %q", raw.Label)
	}
}

func TestWebForm_MultipartWithFile(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	req := multipartRequest(t, "/api/inbound",
		map[string]string{"form_id": "careers"},
		map[string][2]string{"resume": {"cv.exe", "MZ fake binary"}},
	)

	rec := env.do(req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	raw := env.svc.lastSubmitted(t)
	marker := raw.Fields.Get("resume")
	if !strings.HasPrefix(marker, "[file:") || !strings.Contains(marker, `"name":"cv.exe"`) {
		t.Errorf("file marker = %q", marker)
	}
}

func TestTrap_LabelFallsBackToPath(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	rec := env.do(formRequest("/api/trap", url.Values{"honey_token": {"bot"}}))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	raw := env.svc.lastSubmitted(t)
	if !raw.HoneypotTripped {
		t.Error("honeypot not tripped")
	}
	if raw.Label != "/api/trap" {
		t.Errorf("label = %q, want trap path", raw.Label)
	}
}

func TestWebForm_BadBody(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/inbound", strings.NewReader("%zz=broken"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := env.do(req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	body := decodeJSON(t, rec)
	if body["status"] != "error" {
		t.Errorf("body = %v", body)
	}
}

func TestEmail_Accepted(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	req := multipartRequest(t, "/api/sg-inbound", map[string]string{
		"from":       "spammer@bad.example",
		"subject":    "free money",
		"text":       "click https://a.example",
		"spam_score": "7.1",
		"SPF":        "fail",
	}, nil)

	rec := env.do(req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeJSON(t, rec)
	if body["status"] != "received" {
		t.Errorf("body = %v", body)
	}

	raw := env.svc.lastSubmitted(t)
	if raw.Channel != intake.ChannelEmail {
		t.Errorf("channel = %q", raw.Channel)
	}
	if raw.Email == nil || raw.Email.SPF != "fail" || !raw.Email.SpamScoreKnown {
		t.Errorf("email features = %+v", raw.Email)
	}
}

func TestEmail_SecretGate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		header   string
		query    string
		wantCode int
	}{
		{"missing secret", "", "", http.StatusUnauthorized},
		{"wrong header", "nope", "", http.StatusUnauthorized},
		{"header accepted", "hook-secret", "", http.StatusAccepted},
		{"query accepted", "", "hook-secret", http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, func(o *Options) { o.InboundSecret = "hook-secret" })

			path := "/api/sg-inbound"
			if tt.query != "" {
				path += "?secret=" + tt.query
			}
			req := multipartRequest(t, path, map[string]string{"from": "a@x.example"}, nil)
			if tt.header != "" {
				req.Header.Set("X-Inbound-Secret", tt.header)
			}

			rec := env.do(req)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}

func TestEmail_RequiresMultipart(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/sg-inbound", strings.NewReader(`{"from":"x"}`))
	req.Header.Set("Content-Type", "application/json")

	rec := env.do(req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	body := decodeJSON(t, rec)
	if body["error"] != "expected multipart/form-data" {
		t.Errorf("body = %v", body)
	}
}

func TestSMTP_Accepted(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	payload := `{"ip":"203.0.113.40","helo":"mail.bad.example","mail_from":"x@bad.example","rcpt_to":"inbox@site.example","spf":"fail","subject":"hi","size":2048}`
	req := httptest.NewRequest(http.MethodPost, "/api/smtp-ingest", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	rec := env.do(req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	raw := env.svc.lastSubmitted(t)
	if raw.Channel != intake.ChannelSMTP {
		t.Errorf("channel = %q", raw.Channel)
	}
	if raw.SourceIdentity != "203.0.113.40" {
		t.Errorf("identity = %q", raw.SourceIdentity)
	}
	if raw.SMTP == nil || !raw.SMTP.SPFFail || raw.SMTP.PayloadSize != 2048 {
		t.Errorf("smtp features = %+v", raw.SMTP)
	}
}

func TestSMTP_InvalidJSON(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/smtp-ingest", strings.NewReader("{broken"))
	req.Header.Set("Content-Type", "application/json")

	rec := env.do(req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCSP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		contentType string
		body        string
		wantCode    int
	}{
		{
			"wrapped report accepted",
			"application/csp-report",
			`{"csp-report":{"document-uri":"https://site.example/p","violated-directive":"script-src"}}`,
			http.StatusNoContent,
		},
		{
			"bare json accepted",
			"application/json",
			`{"document-uri":"https://site.example/p"}`,
			http.StatusNoContent,
		},
		{
			"wrong content type",
			"text/plain",
			`{}`,
			http.StatusUnsupportedMediaType,
		},
		{
			"invalid json",
			"application/json",
			`not json`,
			http.StatusBadRequest,
		},
		{
			"oversized body",
			"application/json",
			`{"document-uri":"` + strings.Repeat("a", maxCSPBody+100) + `"}`,
			http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, nil)
			req := httptest.NewRequest(http.MethodPost, "/api/csp", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)

			rec := env.do(req)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
		})
	}
}

func TestCSP_StoreFailureStillAcks(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.svc.cspErr = errors.New("db down")

	req := httptest.NewRequest(http.MethodPost, "/api/csp",
		strings.NewReader(`{"document-uri":"https://site.example/p"}`))
	req.Header.Set("Content-Type", "application/json")

	rec := env.do(req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204 despite store failure", rec.Code)
	}
}

func TestAdmin_AuthGate(t *testing.T) {
	t.Parallel()

	paths := []string{
		"/api/inbound/dashboard",
		"/api/inbound/stats",
		"/api/inbound/diag",
	}

	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, nil)

			rec := env.do(httptest.NewRequest(http.MethodGet, path, nil))
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("no secret: status = %d, want 401", rec.Code)
			}

			req := httptest.NewRequest(http.MethodGet, path, nil)
			req.Header.Set("X-Digest-Secret", "wrong")
			if rec := env.do(req); rec.Code != http.StatusUnauthorized {
				t.Errorf("wrong secret: status = %d, want 401", rec.Code)
			}

			req = httptest.NewRequest(http.MethodGet, path, nil)
			req.Header.Set("X-Digest-Secret", "admin-secret")
			if rec := env.do(req); rec.Code != http.StatusOK {
				t.Errorf("good header: status = %d, want 200", rec.Code)
			}

			if rec := env.do(httptest.NewRequest(http.MethodGet, path+"?secret=admin-secret", nil)); rec.Code != http.StatusOK {
				t.Errorf("query secret: status = %d, want 200", rec.Code)
			}
		})
	}
}

func TestAdmin_ClosedWithoutConfiguredSecret(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(o *Options) { o.DigestSecret = "" })

	req := httptest.NewRequest(http.MethodGet, "/api/inbound/stats", nil)
	req.Header.Set("X-Digest-Secret", "")
	if rec := env.do(req); rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 when no secret is configured", rec.Code)
	}
}

func TestDashboard_RendersHTML(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/inbound/dashboard?hours=48", nil)
	req.Header.Set("X-Digest-Secret", "admin-secret")

	rec := env.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "last 48h") {
		t.Error("window hours not rendered")
	}
}

func TestStats(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/inbound/stats?hours=12", nil)
	req.Header.Set("X-Digest-Secret", "admin-secret")

	rec := env.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeJSON(t, rec)
	if body["window_hours"] != float64(12) {
		t.Errorf("window_hours = %v", body["window_hours"])
	}
	totals, _ := body["totals"].(map[string]any)
	if totals["total"] != float64(3) || totals["honey"] != float64(1) {
		t.Errorf("totals = %v", totals)
	}
	if _, sent := body["sent"]; sent {
		t.Error("sent field present without send=1")
	}
}

func TestStats_Send(t *testing.T) {
	t.Parallel()

	notifier := &recordingNotifier{}
	env := newTestEnv(t, func(o *Options) { o.Notifier = notifier })

	req := httptest.NewRequest(http.MethodGet, "/api/inbound/stats?send=1", nil)
	req.Header.Set("X-Digest-Secret", "admin-secret")

	rec := env.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeJSON(t, rec)
	if body["sent"] != true {
		t.Errorf("sent = %v", body["sent"])
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.subjects) != 1 || !strings.Contains(notifier.subjects[0], "digest") {
		t.Errorf("subjects = %v", notifier.subjects)
	}
}

func TestStats_SendWithoutNotifier(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/inbound/stats?send=1", nil)
	req.Header.Set("X-Digest-Secret", "admin-secret")

	rec := env.do(req)
	body := decodeJSON(t, rec)
	if body["sent"] != false {
		t.Errorf("sent = %v, want false without notifier", body["sent"])
	}
}

func TestPrune(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/inbound/prune?days=30", nil)
	req.Header.Set("X-Digest-Secret", "admin-secret")

	rec := env.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeJSON(t, rec)
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}

	env.pruner.mu.Lock()
	defer env.pruner.mu.Unlock()
	if env.pruner.lastDays != 30 {
		t.Errorf("pruner days = %d, want 30", env.pruner.lastDays)
	}
}

func TestPrune_DefaultDays(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/inbound/prune", nil)
	req.Header.Set("X-Digest-Secret", "admin-secret")

	env.do(req)

	env.pruner.mu.Lock()
	defer env.pruner.mu.Unlock()
	if env.pruner.lastDays != 14 {
		t.Errorf("pruner days = %d, want configured default", env.pruner.lastDays)
	}
}

func TestPrune_Error(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.pruner.err = errors.New("db down")

	req := httptest.NewRequest(http.MethodPost, "/api/inbound/prune", nil)
	req.Header.Set("X-Digest-Secret", "admin-secret")

	rec := env.do(req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	body := decodeJSON(t, rec)
	if body["error"] != "internal error" {
		t.Errorf("body = %v", body)
	}
	if _, leaked := body["detail"]; leaked {
		t.Error("error detail leaked without debug mode")
	}
}

func TestDiag(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(o *Options) { o.MailConfigured = true })
	req := httptest.NewRequest(http.MethodGet, "/api/inbound/diag", nil)
	req.Header.Set("X-Digest-Secret", "admin-secret")

	rec := env.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeJSON(t, rec)

	db, _ := body["db"].(map[string]any)
	if db["ok"] != true {
		t.Errorf("db = %v", db)
	}
	if db["events_last_hour"] != float64(3) {
		t.Errorf("events_last_hour = %v", db["events_last_hour"])
	}
	mail, _ := body["mail"].(map[string]any)
	if mail["configured"] != true {
		t.Errorf("mail = %v", mail)
	}
}

func TestDiag_StoreDown(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.reporter.err = errors.New("connection refused")

	req := httptest.NewRequest(http.MethodGet, "/api/inbound/diag", nil)
	req.Header.Set("X-Digest-Secret", "admin-secret")

	rec := env.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, diag must answer even when the store is down", rec.Code)
	}
	body := decodeJSON(t, rec)
	db, _ := body["db"].(map[string]any)
	if db["ok"] != false {
		t.Errorf("db = %v", db)
	}
	if _, leaked := db["error"]; leaked {
		t.Error("error detail leaked without debug mode")
	}
}

func TestDiag_DebugDetail(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(o *Options) { o.DebugErrors = true })
	env.reporter.err = errors.New("connection refused")

	req := httptest.NewRequest(http.MethodGet, "/api/inbound/diag?debug=1", nil)
	req.Header.Set("X-Digest-Secret", "admin-secret")

	rec := env.do(req)
	body := decodeJSON(t, rec)
	db, _ := body["db"].(map[string]any)
	if db["error"] != "connection refused" {
		t.Errorf("db = %v, want error detail in debug mode", db)
	}
}

func TestDiag_SendTestMail(t *testing.T) {
	t.Parallel()

	notifier := &recordingNotifier{}
	env := newTestEnv(t, func(o *Options) {
		o.Notifier = notifier
		o.MailConfigured = true
	})

	req := httptest.NewRequest(http.MethodGet, "/api/inbound/diag?send=1", nil)
	req.Header.Set("X-Digest-Secret", "admin-secret")

	rec := env.do(req)
	body := decodeJSON(t, rec)
	mail, _ := body["mail"].(map[string]any)
	result, _ := mail["result"].(map[string]any)
	if result["ok"] != true {
		t.Errorf("mail result = %v", result)
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.subjects) != 1 || notifier.subjects[0] != "intake diag" {
		t.Errorf("subjects = %v", notifier.subjects)
	}
}

func TestRequestMeta(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/api/inbound", nil)
	req.RemoteAddr = "198.51.100.7:44321"
	req.Header.Set("User-Agent", "test/1.0")

	meta := requestMeta(req)
	if meta.SourceIdentity != "198.51.100.7" {
		t.Errorf("identity = %q, want socket peer", meta.SourceIdentity)
	}
	if meta.Reference == "" {
		t.Error("reference not generated without CF-Ray")
	}
	if meta.UserAgent != "test/1.0" {
		t.Errorf("user agent = %q", meta.UserAgent)
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{
			"cf connecting ip wins",
			map[string]string{"CF-Connecting-IP": "203.0.113.1", "X-Forwarded-For": "10.0.0.1"},
			"198.51.100.7:1234",
			"203.0.113.1",
		},
		{
			"first forwarded hop",
			map[string]string{"X-Forwarded-For": "203.0.113.2, 10.0.0.1"},
			"198.51.100.7:1234",
			"203.0.113.2",
		},
		{
			"garbage forwarded falls through",
			map[string]string{"X-Forwarded-For": "not-an-ip"},
			"198.51.100.7:1234",
			"198.51.100.7",
		},
		{
			"socket peer",
			nil,
			"198.51.100.7:1234",
			"198.51.100.7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodPost, "/api/inbound", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestThreatScoreHeader(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	req := formRequest("/api/inbound", url.Values{"form_id": {"contact"}})
	req.Header.Set("CF-Threat-Score", "35")

	env.do(req)

	raw := env.svc.lastSubmitted(t)
	if raw.WebForm == nil || raw.WebForm.ThreatScore != 35 {
		t.Errorf("threat score = %+v", raw.WebForm)
	}
}
