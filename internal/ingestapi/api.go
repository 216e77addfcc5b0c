// Package ingestapi exposes the HTTP surface of the intake pipeline: the
// public channel endpoints and the secret-gated admin endpoints.
package ingestapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/intake/internal/authmw"
	"github.com/linnemanlabs/intake/internal/intake"
)

// IntakeService defines the business operations the channel endpoints need.
type IntakeService interface {
	Submit(ctx context.Context, raw *intake.RawIntake) *intake.Receipt
	RecordCSPReport(ctx context.Context, rep *intake.CSPReport) error
}

// Reporter defines the read-side operations the admin endpoints need.
type Reporter interface {
	Summarize(ctx context.Context, hours int) (*intake.Summary, error)
	Digest(ctx context.Context, hours int) (*intake.Digest, error)
}

// Pruner runs retention and returns the audit record.
type Pruner interface {
	Run(ctx context.Context, days int) (*intake.RetentionRun, error)
}

// Options configures the HTTP surface.
type Options struct {
	// DigestSecret gates the admin endpoints. Empty keeps them closed.
	DigestSecret string

	// InboundSecret optionally gates the email webhook. Empty leaves it open.
	InboundSecret string

	// RateLimitPerMinute is the per-IP budget on public endpoints.
	RateLimitPerMinute int

	// RetentionDays is the default horizon for prune requests without an
	// explicit days parameter.
	RetentionDays int

	// Notifier sends digest and diag test mail. May be nil.
	Notifier intake.Notifier

	// MailConfigured is surfaced in diag output.
	MailConfigured bool

	// DebugErrors includes error detail in diag responses.
	DebugErrors bool
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	svc      IntakeService
	reporter Reporter
	pruner   Pruner
	opts     Options
}

// New creates a new API handler.
func New(logger log.Logger, svc IntakeService, reporter Reporter, pruner Pruner, opts Options) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("intake service is required"))
	}
	if reporter == nil {
		panic(xerrors.New("reporter is required"))
	}
	if pruner == nil {
		panic(xerrors.New("pruner is required"))
	}
	if opts.RateLimitPerMinute <= 0 {
		opts.RateLimitPerMinute = 120
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = intake.DefaultRetentionDays
	}
	return &API{
		logger:   logger,
		svc:      svc,
		reporter: reporter,
		pruner:   pruner,
		opts:     opts,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	// public channel endpoints, per-IP rate limited
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(a.opts.RateLimitPerMinute, time.Minute))
		r.Post("/api/inbound", a.handleWebForm)
		r.Post("/api/trap", a.handleTrap)
		r.Post("/api/sg-inbound", a.handleEmail)
		r.Post("/api/smtp-ingest", a.handleSMTP)
		r.Post("/api/csp", a.handleCSP)
	})

	// admin endpoints behind the digest secret
	r.Group(func(r chi.Router) {
		r.Use(authmw.SharedSecret(a.opts.DigestSecret, "X-Digest-Secret"))
		r.Get("/api/inbound/dashboard", a.handleDashboard)
		r.Get("/api/inbound/stats", a.handleStats)
		r.Post("/api/inbound/prune", a.handlePrune)
		r.Get("/api/inbound/diag", a.handleDiag)
	})
}

// requestMeta extracts transport metadata the normalizers fold into events.
// Identity and geo headers are advisory: they come from the edge network when
// present and degrade to the socket peer otherwise.
func requestMeta(r *http.Request) intake.RequestMeta {
	meta := intake.RequestMeta{
		Path:      r.URL.Path,
		UserAgent: r.Header.Get("User-Agent"),
		Referer:   r.Header.Get("Referer"),
	}

	meta.SourceIdentity = clientIP(r)
	meta.Geo.Country = r.Header.Get("CF-IPCountry")

	if ray := r.Header.Get("CF-Ray"); ray != "" {
		meta.Reference = ray
		// ray ids look like 8f2a1b3c4d5e6f70-AMS
		if i := strings.LastIndexByte(ray, '-'); i >= 0 && i+1 < len(ray) {
			meta.Geo.Colo = ray[i+1:]
		}
	} else {
		meta.Reference = ulid.Make().String()
	}

	if ts := r.Header.Get("CF-Threat-Score"); ts != "" {
		if v, err := strconv.Atoi(ts); err == nil {
			meta.ThreatScore = v
		}
	}

	return meta
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
		if _, err := netip.ParseAddr(first); err == nil {
			return first
		}
	}
	host := r.RemoteAddr
	if ap, err := netip.ParseAddrPort(host); err == nil {
		return ap.Addr().String()
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
