package intake

import (
	"context"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// Notifier is the outbound alert transport. Implementations must be safe for
// concurrent use; failures are logged and never surfaced to the submitter.
type Notifier interface {
	Send(ctx context.Context, subject, body string) error
}

// Config holds the operator-tunable pipeline parameters. It is constructed
// once at process start and passed by reference; business logic never reads
// ambient environment state.
type Config struct {
	// SuspectThreshold is the score at which a non-honeypot event is
	// classified suspicious.
	SuspectThreshold int

	// AlertThreshold is the score at which an event triggers a
	// notification.
	AlertThreshold int

	// HourlyAlertCap bounds system-wide notifications per rolling hour.
	HourlyAlertCap int

	// DedupWindow suppresses repeat notifications for the same source
	// identity.
	DedupWindow time.Duration
}

// Receipt acknowledges one accepted submission.
type Receipt struct {
	EventID        int64
	Reference      string
	Score          int
	Classification Classification
	Alerted        bool
}

// Service is the business boundary of the intake pipeline: it scores a
// normalized intake, persists the event, evaluates the alert gate and
// dispatches the notification asynchronously.
type Service struct {
	store    Store
	notifier Notifier
	cfg      Config
	logger   log.Logger
	metrics  *Metrics
}

// NewService creates the intake service. notifier may be nil, in which case
// alerting silently no-ops.
func NewService(store Store, notifier Notifier, cfg Config, logger log.Logger, m *Metrics) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
	}
}

// dispatchTimeout bounds a single async notification attempt.
const dispatchTimeout = 10 * time.Second

// Submit runs the scoring/persist/alert pipeline for one normalized intake.
// It never fails the caller: store and notifier errors are logged, counted
// and swallowed so the intake surface stays available when secondary
// subsystems degrade.
func (s *Service) Submit(ctx context.Context, raw *RawIntake) *Receipt {
	score, class := Score(raw, s.cfg.SuspectThreshold)

	now := time.Now().UTC()
	ev := &Event{
		Timestamp:       now,
		SourceIdentity:  raw.SourceIdentity,
		Geo:             raw.Geo,
		Channel:         raw.Channel,
		Label:           raw.Label,
		HoneypotTripped: raw.HoneypotTripped,
		Score:           score,
		Classification:  class,
		UserAgent:       raw.UserAgent,
		Reference:       raw.Reference,
		Fields:          raw.Fields,
	}

	L := s.logger.With(
		"channel", string(raw.Channel),
		"label", raw.Label,
		"score", score,
		"classification", string(class),
		"reference", raw.Reference,
	)

	// Gate checks run before the event is inserted: two concurrent
	// requests can both pass before either's event is visible, so the cap
	// and dedup window are best-effort throttles, not hard limits.
	triggered := class == ClassHoneypot || score >= s.cfg.AlertThreshold
	suppressed := false
	if triggered {
		suppressed = s.suppress(ctx, L, ev, now)
	}

	id, err := s.store.Insert(ctx, ev)
	if err != nil {
		// degrade: acknowledge the caller anyway, skip alerting
		L.Error(ctx, err, "event insert failed")
		s.metrics.StoreErrors.WithLabelValues("insert").Inc()
		return &Receipt{Reference: raw.Reference, Score: score, Classification: class}
	}
	ev.ID = id

	s.metrics.EventsTotal.WithLabelValues(string(raw.Channel), string(class)).Inc()
	s.metrics.EventScore.WithLabelValues(string(raw.Channel)).Observe(float64(score))

	alerted := false
	if triggered && !suppressed {
		alerted = true
		// detach from the request: dispatch must survive the response
		// but never block or fail it
		go s.dispatch(context.WithoutCancel(ctx), ev)
	}

	L.Info(ctx, "event accepted", "event_id", id, "alerted", alerted)

	return &Receipt{
		EventID:        id,
		Reference:      raw.Reference,
		Score:          score,
		Classification: class,
		Alerted:        alerted,
	}
}

// suppress applies the hourly cap and the per-identity dedup window. A store
// error on either check suppresses the alert: when persistence is degraded we
// prefer silence over unbounded notification volume.
func (s *Service) suppress(ctx context.Context, L log.Logger, ev *Event, now time.Time) bool {
	hot := HoneypotOrScoreAtLeast(s.cfg.AlertThreshold)

	count, err := s.store.CountSince(ctx, now.Add(-time.Hour), hot)
	if err != nil {
		L.Error(ctx, err, "hourly cap check failed, suppressing alert")
		s.metrics.StoreErrors.WithLabelValues("count").Inc()
		return true
	}
	if count >= int64(s.cfg.HourlyAlertCap) {
		L.Warn(ctx, "alert suppressed by hourly cap", "count", count, "cap", s.cfg.HourlyAlertCap)
		s.metrics.AlertsTotal.WithLabelValues(AlertSuppressedCap).Inc()
		return true
	}

	if ev.SourceIdentity != "" {
		seen, err := s.store.ExistsForIdentity(ctx, ev.SourceIdentity, now.Add(-s.cfg.DedupWindow), hot)
		if err != nil {
			L.Error(ctx, err, "dedup check failed, suppressing alert")
			s.metrics.StoreErrors.WithLabelValues("exists").Inc()
			return true
		}
		if seen {
			L.Info(ctx, "alert suppressed by dedup window", "identity", ev.SourceIdentity)
			s.metrics.AlertsTotal.WithLabelValues(AlertSuppressedDup).Inc()
			return true
		}
	}

	return false
}

// dispatch sends the notification for one triggering event. Failures are
// logged and swallowed; there is no retry.
func (s *Service) dispatch(ctx context.Context, ev *Event) {
	if s.notifier == nil {
		s.metrics.AlertsTotal.WithLabelValues(AlertSkippedConfig).Inc()
		return
	}

	ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()

	subject, body := FormatAlert(ev)

	start := time.Now()
	err := s.notifier.Send(ctx, subject, body)
	s.metrics.NotifyDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		s.logger.Error(ctx, err, "alert dispatch failed",
			"event_id", ev.ID,
			"classification", string(ev.Classification),
		)
		s.metrics.AlertsTotal.WithLabelValues(AlertFailed).Inc()
		return
	}

	s.metrics.AlertsTotal.WithLabelValues(AlertSent).Inc()
}

// RecordCSPReport stores a policy-violation report. Reports bypass scoring
// and alerting entirely.
func (s *Service) RecordCSPReport(ctx context.Context, rep *CSPReport) error {
	if rep.ReceivedAt.IsZero() {
		rep.ReceivedAt = time.Now().UTC()
	}
	if err := s.store.InsertCSPReport(ctx, rep); err != nil {
		s.metrics.StoreErrors.WithLabelValues("csp_insert").Inc()
		return err
	}
	s.metrics.CSPReportsTotal.Inc()
	return nil
}
