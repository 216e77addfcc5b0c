// Package memstore provides an in-memory implementation of intake.Store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/intake/internal/intake"
)

// Store holds events in memory. Suitable for dev/testing; natural row order
// is insertion order.
type Store struct {
	mu     sync.RWMutex
	nextID int64
	events []intake.Event
	runs   []intake.RetentionRun
	csp    []intake.CSPReport
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{nextID: 1}
}

// Insert appends a copy of the event and assigns its ID.
func (s *Store) Insert(_ context.Context, e *intake.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *e
	cp.Fields = e.Fields.Clone()
	cp.ID = s.nextID
	s.nextID++
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now().UTC()
	}
	s.events = append(s.events, cp)
	return cp.ID, nil
}

// CountSince counts events in the window matching p.
func (s *Store) CountSince(_ context.Context, since time.Time, p intake.Predicate) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for i := range s.events {
		if inWindow(&s.events[i], since) && p.Match(&s.events[i]) {
			n++
		}
	}
	return n, nil
}

// ExistsForIdentity reports whether the identity has a matching event in the
// window.
func (s *Store) ExistsForIdentity(_ context.Context, identity string, since time.Time, p intake.Predicate) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.events {
		e := &s.events[i]
		if e.SourceIdentity == identity && inWindow(e, since) && p.Match(e) {
			return true, nil
		}
	}
	return false, nil
}

// AggregateByField groups the window by field, count descending. Ties break
// by value ascending to keep the output deterministic.
func (s *Store) AggregateByField(_ context.Context, field intake.AggregateField, since time.Time, limit int) ([]intake.Bucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]*intake.Bucket)
	for i := range s.events {
		e := &s.events[i]
		if !inWindow(e, since) {
			continue
		}
		value, ok := bucketValue(e, field)
		if !ok {
			continue
		}
		b := counts[value]
		if b == nil {
			b = &intake.Bucket{Value: value}
			counts[value] = b
		}
		b.Count++
		if e.HoneypotTripped {
			b.Honeypot++
		}
	}

	out := make([]intake.Bucket, 0, len(counts))
	for _, b := range counts {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// TimeBounds returns the oldest and newest timestamps in the window.
func (s *Store) TimeBounds(_ context.Context, since time.Time) (*time.Time, *time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var oldest, newest *time.Time
	for i := range s.events {
		e := &s.events[i]
		if !inWindow(e, since) {
			continue
		}
		ts := e.Timestamp
		if oldest == nil || ts.Before(*oldest) {
			t := ts
			oldest = &t
		}
		if newest == nil || ts.After(*newest) {
			t := ts
			newest = &t
		}
	}
	return oldest, newest, nil
}

// Recent returns up to limit windowed events, newest first. Returns copies.
func (s *Store) Recent(_ context.Context, since time.Time, limit int) ([]intake.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]intake.Event, 0, limit)
	// walk in reverse insertion order so equal timestamps surface the
	// later row first, matching timestamp-descending reads elsewhere
	for i := len(s.events) - 1; i >= 0; i-- {
		if inWindow(&s.events[i], since) {
			ev := s.events[i]
			ev.Fields = ev.Fields.Clone()
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteBefore removes events older than cutoff and returns their summary.
func (s *Store) DeleteBefore(_ context.Context, cutoff time.Time) (intake.DeleteSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var summary intake.DeleteSummary
	classes := make(map[intake.Classification]int64)

	kept := s.events[:0]
	for i := range s.events {
		e := s.events[i]
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
			continue
		}
		summary.Count++
		if e.HoneypotTripped {
			summary.Honeypot++
		}
		classes[e.Classification]++
		ts := e.Timestamp
		if summary.Oldest == nil || ts.Before(*summary.Oldest) {
			t := ts
			summary.Oldest = &t
		}
		if summary.Newest == nil || ts.After(*summary.Newest) {
			t := ts
			summary.Newest = &t
		}
	}
	s.events = kept

	for class, n := range classes {
		summary.ByClassification = append(summary.ByClassification, intake.Bucket{
			Value: string(class),
			Count: n,
		})
	}
	sort.Slice(summary.ByClassification, func(i, j int) bool {
		if summary.ByClassification[i].Count != summary.ByClassification[j].Count {
			return summary.ByClassification[i].Count > summary.ByClassification[j].Count
		}
		return summary.ByClassification[i].Value < summary.ByClassification[j].Value
	})

	return summary, nil
}

// InsertRetentionRun appends a retention audit row.
func (s *Store) InsertRetentionRun(_ context.Context, run *intake.RetentionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, *run)
	return nil
}

// RetentionRuns returns a copy of the audit log, oldest first.
func (s *Store) RetentionRuns() []intake.RetentionRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]intake.RetentionRun, len(s.runs))
	copy(out, s.runs)
	return out
}

// InsertCSPReport appends a policy-violation report.
func (s *Store) InsertCSPReport(_ context.Context, rep *intake.CSPReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rep
	cp.ID = int64(len(s.csp) + 1)
	s.csp = append(s.csp, cp)
	return nil
}

// CSPReports returns a copy of the stored reports, oldest first.
func (s *Store) CSPReports() []intake.CSPReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]intake.CSPReport, len(s.csp))
	copy(out, s.csp)
	return out
}

func inWindow(e *intake.Event, since time.Time) bool {
	return !e.Timestamp.Before(since)
}

func bucketValue(e *intake.Event, field intake.AggregateField) (string, bool) {
	switch field {
	case intake.ByClassification:
		return string(e.Classification), true
	case intake.ByLabel:
		if e.Label == "" {
			return "(none)", true
		}
		return e.Label, true
	case intake.ByIdentity:
		if e.SourceIdentity == "" {
			return "", false
		}
		return e.SourceIdentity, true
	case intake.ByCountry:
		if e.Geo.Country == "" {
			return "??", true
		}
		return e.Geo.Country, true
	default:
		return "", false
	}
}
