package intake

import (
	"context"
	"time"
)

// PredicateKind enumerates the closed set of row filters windowed reads use.
type PredicateKind int

const (
	MatchAll PredicateKind = iota
	MatchHoneypot
	MatchScoreAtLeast
	MatchNonHoneypotScore
	MatchHoneypotOrScore
)

// Predicate selects which events a windowed read matches. Construct with
// All, HoneypotOnly, ScoreAtLeast, NonHoneypotScoreAtLeast or
// HoneypotOrScoreAtLeast.
type Predicate struct {
	Kind      PredicateKind
	Threshold int
}

func All() Predicate               { return Predicate{Kind: MatchAll} }
func HoneypotOnly() Predicate      { return Predicate{Kind: MatchHoneypot} }
func ScoreAtLeast(t int) Predicate { return Predicate{Kind: MatchScoreAtLeast, Threshold: t} }

// NonHoneypotScoreAtLeast matches events at or above t whose honeypot flag is
// clear, so honeypot rows are not counted twice next to a HoneypotOnly count.
func NonHoneypotScoreAtLeast(t int) Predicate {
	return Predicate{Kind: MatchNonHoneypotScore, Threshold: t}
}

func HoneypotOrScoreAtLeast(t int) Predicate {
	return Predicate{Kind: MatchHoneypotOrScore, Threshold: t}
}

// Match reports whether the predicate selects e.
func (p Predicate) Match(e *Event) bool {
	switch p.Kind {
	case MatchHoneypot:
		return e.HoneypotTripped
	case MatchScoreAtLeast:
		return e.Score >= p.Threshold
	case MatchNonHoneypotScore:
		return !e.HoneypotTripped && e.Score >= p.Threshold
	case MatchHoneypotOrScore:
		return e.HoneypotTripped || e.Score >= p.Threshold
	default:
		return true
	}
}

// AggregateField names the event columns the aggregate queries group by.
type AggregateField string

const (
	ByClassification AggregateField = "classification"
	ByLabel          AggregateField = "label"
	ByIdentity       AggregateField = "identity"
	ByCountry        AggregateField = "country"
)

// Bucket is one aggregate group: a field value, its event count, and the
// honeypot sub-count within the group.
type Bucket struct {
	Value    string `json:"value"`
	Count    int64  `json:"count"`
	Honeypot int64  `json:"honeypot,omitempty"`
}

// DeleteSummary describes the rows a DeleteBefore call removed. It is
// computed over the same logical snapshot that was deleted: the store runs
// the summary first, then the delete, accepting a small race window under
// concurrent inserts.
type DeleteSummary struct {
	Count            int64
	Honeypot         int64
	Oldest           *time.Time
	Newest           *time.Time
	ByClassification []Bucket
}

// Store is the persistence boundary for the intake pipeline. Events are
// append-only; DeleteBefore is the only multi-row mutation. All reads are
// windowed by a caller-computed since timestamp, and every call inherits the
// caller's deadline.
type Store interface {
	// Insert appends an event and returns its store-assigned ID. A zero
	// Timestamp is replaced by the current UTC time.
	Insert(ctx context.Context, e *Event) (int64, error)

	// CountSince counts events with Timestamp >= since matching p.
	CountSince(ctx context.Context, since time.Time, p Predicate) (int64, error)

	// ExistsForIdentity reports whether any event from the given source
	// identity with Timestamp >= since matches p.
	ExistsForIdentity(ctx context.Context, identity string, since time.Time, p Predicate) (bool, error)

	// AggregateByField groups the window by field and returns up to limit
	// buckets ordered by count descending. Tie order beyond that is the
	// store's natural row order.
	AggregateByField(ctx context.Context, field AggregateField, since time.Time, limit int) ([]Bucket, error)

	// TimeBounds returns the oldest and newest event timestamps within the
	// window, or nils when the window is empty.
	TimeBounds(ctx context.Context, since time.Time) (oldest, newest *time.Time, err error)

	// Recent returns up to limit events with Timestamp >= since, newest
	// first.
	Recent(ctx context.Context, since time.Time, limit int) ([]Event, error)

	// DeleteBefore removes all events with Timestamp < cutoff and returns
	// the pre-deletion summary of exactly those rows.
	DeleteBefore(ctx context.Context, cutoff time.Time) (DeleteSummary, error)

	// InsertRetentionRun appends one retention audit row.
	InsertRetentionRun(ctx context.Context, run *RetentionRun) error

	// InsertCSPReport appends a policy-violation report to its own table.
	InsertCSPReport(ctx context.Context, rep *CSPReport) error
}
