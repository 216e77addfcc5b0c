package intake

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultWindowHours is the dashboard window when none is requested.
	DefaultWindowHours = 24

	// MaxWindowHours caps the reporting window (30 days).
	MaxWindowHours = 24 * 30

	topLimit    = 10
	recentLimit = 40
)

// ClampWindowHours bounds a requested reporting window to
// [1, MaxWindowHours], substituting the default for non-positive values.
func ClampWindowHours(hours int) int {
	if hours <= 0 {
		return DefaultWindowHours
	}
	if hours > MaxWindowHours {
		return MaxWindowHours
	}
	return hours
}

// Summary is one windowed dashboard report. Suspicious counts every event at
// or above the threshold, honeypot rows included. Top-N ordering is
// deterministic given the same store state; ties beyond count-descending
// follow the store's natural row order.
type Summary struct {
	WindowHours int        `json:"window_hours"`
	Threshold   int        `json:"threshold"`
	Total       int64      `json:"total"`
	Honeypot    int64      `json:"honeypot"`
	Suspicious  int64      `json:"suspicious"`
	Oldest      *time.Time `json:"oldest,omitempty"`
	Newest      *time.Time `json:"newest,omitempty"`

	Classes       []Bucket `json:"class_breakdown"`
	TopLabels     []Bucket `json:"top_labels"`
	TopIdentities []Bucket `json:"top_identities"`
	TopCountries  []Bucket `json:"top_countries"`
	Recent        []Event  `json:"recent"`
}

// Digest is the compact triggering-events view mailed to the operator.
// Unlike the dashboard summary, Suspicious here excludes honeypot rows, so
// Honeypot and Suspicious partition the triggering set.
type Digest struct {
	WindowHours   int      `json:"window_hours"`
	Total         int64    `json:"total"`
	Honeypot      int64    `json:"honeypot"`
	Suspicious    int64    `json:"suspicious"`
	TopIdentities []Bucket `json:"top_identities"`
	Recent        []Event  `json:"recent"`
}

// Aggregator is the read-only reporting layer over the event store.
type Aggregator struct {
	store     Store
	threshold int
}

// NewAggregator creates the reporting layer. threshold is the alert
// threshold used for the suspicious count and the digest's triggering
// filter.
func NewAggregator(store Store, threshold int) *Aggregator {
	return &Aggregator{store: store, threshold: threshold}
}

// Summarize builds the full dashboard summary for the last hours hours.
func (a *Aggregator) Summarize(ctx context.Context, hours int) (*Summary, error) {
	hours = ClampWindowHours(hours)
	return a.summarize(ctx, hours, windowStart(hours))
}

func windowStart(hours int) time.Time {
	return time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
}

func (a *Aggregator) summarize(ctx context.Context, hours int, since time.Time) (*Summary, error) {
	s := &Summary{WindowHours: hours, Threshold: a.threshold}

	var err error
	if s.Total, err = a.store.CountSince(ctx, since, All()); err != nil {
		return nil, fmt.Errorf("count total: %w", err)
	}
	if s.Honeypot, err = a.store.CountSince(ctx, since, HoneypotOnly()); err != nil {
		return nil, fmt.Errorf("count honeypot: %w", err)
	}
	if s.Suspicious, err = a.store.CountSince(ctx, since, ScoreAtLeast(a.threshold)); err != nil {
		return nil, fmt.Errorf("count suspicious: %w", err)
	}
	if s.Oldest, s.Newest, err = a.store.TimeBounds(ctx, since); err != nil {
		return nil, fmt.Errorf("time bounds: %w", err)
	}
	if s.Classes, err = a.store.AggregateByField(ctx, ByClassification, since, topLimit); err != nil {
		return nil, fmt.Errorf("classification breakdown: %w", err)
	}
	if s.TopLabels, err = a.store.AggregateByField(ctx, ByLabel, since, topLimit); err != nil {
		return nil, fmt.Errorf("top labels: %w", err)
	}
	if s.TopIdentities, err = a.store.AggregateByField(ctx, ByIdentity, since, topLimit); err != nil {
		return nil, fmt.Errorf("top identities: %w", err)
	}
	if s.TopCountries, err = a.store.AggregateByField(ctx, ByCountry, since, topLimit); err != nil {
		return nil, fmt.Errorf("top countries: %w", err)
	}
	if s.Recent, err = a.store.Recent(ctx, since, recentLimit); err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}

	return s, nil
}

// Digest derives the triggering-events digest from a full summary: recent
// events filtered to honeypot-or-threshold, bounded to ten rows. The
// suspicious count is recomputed over non-honeypot rows only.
func (a *Aggregator) Digest(ctx context.Context, hours int) (*Digest, error) {
	hours = ClampWindowHours(hours)
	since := windowStart(hours)

	s, err := a.summarize(ctx, hours, since)
	if err != nil {
		return nil, err
	}

	suspicious, err := a.store.CountSince(ctx, since, NonHoneypotScoreAtLeast(a.threshold))
	if err != nil {
		return nil, fmt.Errorf("count suspicious: %w", err)
	}

	hot := HoneypotOrScoreAtLeast(a.threshold)
	recent := make([]Event, 0, 10)
	for i := range s.Recent {
		if !hot.Match(&s.Recent[i]) {
			continue
		}
		recent = append(recent, s.Recent[i])
		if len(recent) == 10 {
			break
		}
	}

	return &Digest{
		WindowHours:   s.WindowHours,
		Total:         s.Total,
		Honeypot:      s.Honeypot,
		Suspicious:    suspicious,
		TopIdentities: s.TopIdentities,
		Recent:        recent,
	}, nil
}

// FormatDigest renders the digest as the plaintext mail body.
func FormatDigest(d *Digest) string {
	lines := []string{
		fmt.Sprintf("intake digest — last %dh", d.WindowHours),
		fmt.Sprintf("total=%d honey=%d suspicious=%d", d.Total, d.Honeypot, d.Suspicious),
		"",
		"top IPs:",
	}
	for _, b := range d.TopIdentities {
		lines = append(lines, fmt.Sprintf("  %s — %d", b.Value, b.Count))
	}
	lines = append(lines, "", "recent:")
	for i := range d.Recent {
		e := &d.Recent[i]
		ip := e.SourceIdentity
		if ip == "" {
			ip = "?"
		}
		label := e.Label
		if label == "" {
			label = "-"
		}
		lines = append(lines, fmt.Sprintf("  %s %s score=%d %s/%s",
			e.Timestamp.UTC().Format(time.RFC3339), ip, e.Score, e.Classification, label))
	}
	return strings.Join(lines, "\n")
}
