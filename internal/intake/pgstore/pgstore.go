// Package pgstore provides a PostgreSQL implementation of intake.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/intake/internal/intake"
)

var tracer = otel.Tracer("github.com/linnemanlabs/intake/internal/intake/pgstore")

//go:embed schema.sql
var schema string

// Store persists intake events in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on the given pool and returns a ready Store. The
// caller owns the pool's lifecycle.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func spanErr(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// predicateClause renders p as a WHERE fragment, appending any parameter to
// args and referencing it positionally.
func predicateClause(p intake.Predicate, args []any) (string, []any) {
	switch p.Kind {
	case intake.MatchHoneypot:
		return "honeypot", args
	case intake.MatchScoreAtLeast:
		args = append(args, p.Threshold)
		return fmt.Sprintf("score >= $%d", len(args)), args
	case intake.MatchNonHoneypotScore:
		args = append(args, p.Threshold)
		return fmt.Sprintf("(NOT honeypot AND score >= $%d)", len(args)), args
	case intake.MatchHoneypotOrScore:
		args = append(args, p.Threshold)
		return fmt.Sprintf("(honeypot OR score >= $%d)", len(args)), args
	default:
		return "TRUE", args
	}
}

// Insert appends one event row and returns its ID.
func (s *Store) Insert(ctx context.Context, e *intake.Event) (int64, error) {
	ctx, span := startSpan(ctx, "pgstore.Insert", "INSERT")
	defer span.End()

	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	var fieldsJSON []byte
	if len(e.Fields) > 0 {
		var err error
		fieldsJSON, err = json.Marshal(e.Fields)
		if err != nil {
			spanErr(span, err)
			return 0, fmt.Errorf("marshal fields: %w", err)
		}
	}

	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO events (ts, ip, country, asn, colo, channel, label, honeypot, score, classification, user_agent, reference, fields)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		 RETURNING id`,
		ts, nullString(e.SourceIdentity), nullString(e.Geo.Country), nullInt64(e.Geo.ASN),
		nullString(e.Geo.Colo), string(e.Channel), nullString(e.Label), e.HoneypotTripped,
		e.Score, string(e.Classification), nullString(e.UserAgent), nullString(e.Reference),
		fieldsJSON,
	).Scan(&id)
	if err != nil {
		spanErr(span, err)
		return 0, fmt.Errorf("insert event: %w", err)
	}

	e.Timestamp = ts
	return id, nil
}

// CountSince counts events in the window matching p.
func (s *Store) CountSince(ctx context.Context, since time.Time, p intake.Predicate) (int64, error) {
	ctx, span := startSpan(ctx, "pgstore.CountSince", "SELECT")
	defer span.End()

	args := []any{since}
	clause, args := predicateClause(p, args)

	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM events WHERE ts >= $1 AND `+clause, args...,
	).Scan(&n)
	if err != nil {
		spanErr(span, err)
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// ExistsForIdentity reports whether the identity has a matching event in the
// window.
func (s *Store) ExistsForIdentity(ctx context.Context, identity string, since time.Time, p intake.Predicate) (bool, error) {
	ctx, span := startSpan(ctx, "pgstore.ExistsForIdentity", "SELECT")
	defer span.End()

	args := []any{identity, since}
	clause, args := predicateClause(p, args)

	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM events WHERE ip = $1 AND ts >= $2 AND `+clause+`)`, args...,
	).Scan(&exists)
	if err != nil {
		spanErr(span, err)
		return false, fmt.Errorf("exists for identity: %w", err)
	}
	return exists, nil
}

// aggregateExpr maps an aggregate field to its grouping SQL expression. The
// second return filters out rows that have no value for the field.
func aggregateExpr(field intake.AggregateField) (expr, filter string, ok bool) {
	switch field {
	case intake.ByClassification:
		return "classification", "", true
	case intake.ByLabel:
		return "COALESCE(label, '(none)')", "", true
	case intake.ByIdentity:
		return "ip", "AND ip IS NOT NULL", true
	case intake.ByCountry:
		return "COALESCE(country, '??')", "", true
	default:
		return "", "", false
	}
}

// AggregateByField groups the window by field, count descending with value
// ascending as the tiebreak.
func (s *Store) AggregateByField(ctx context.Context, field intake.AggregateField, since time.Time, limit int) ([]intake.Bucket, error) {
	ctx, span := startSpan(ctx, "pgstore.AggregateByField", "SELECT")
	defer span.End()

	expr, filter, ok := aggregateExpr(field)
	if !ok {
		return nil, fmt.Errorf("unknown aggregate field %q", field)
	}

	query := fmt.Sprintf(
		`SELECT %s AS v, count(*), count(*) FILTER (WHERE honeypot)
		 FROM events WHERE ts >= $1 %s
		 GROUP BY v ORDER BY count(*) DESC, v ASC LIMIT $2`,
		expr, filter,
	)

	rows, err := s.pool.Query(ctx, query, since, limit)
	if err != nil {
		spanErr(span, err)
		return nil, fmt.Errorf("aggregate %s: %w", field, err)
	}
	defer rows.Close()

	var out []intake.Bucket
	for rows.Next() {
		var b intake.Bucket
		if err := rows.Scan(&b.Value, &b.Count, &b.Honeypot); err != nil {
			spanErr(span, err)
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		spanErr(span, err)
		return nil, fmt.Errorf("iterate buckets: %w", err)
	}
	return out, nil
}

// TimeBounds returns the oldest and newest timestamps in the window.
func (s *Store) TimeBounds(ctx context.Context, since time.Time) (*time.Time, *time.Time, error) {
	ctx, span := startSpan(ctx, "pgstore.TimeBounds", "SELECT")
	defer span.End()

	var oldest, newest *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT min(ts), max(ts) FROM events WHERE ts >= $1`, since,
	).Scan(&oldest, &newest)
	if err != nil {
		spanErr(span, err)
		return nil, nil, fmt.Errorf("time bounds: %w", err)
	}
	return oldest, newest, nil
}

const eventColumns = `id, ts, ip, country, asn, colo, channel, label, honeypot, score, classification, user_agent, reference, fields`

// Recent returns up to limit windowed events, newest first.
func (s *Store) Recent(ctx context.Context, since time.Time, limit int) ([]intake.Event, error) {
	ctx, span := startSpan(ctx, "pgstore.Recent", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM events WHERE ts >= $1 ORDER BY ts DESC, id DESC LIMIT $2`,
		since, limit,
	)
	if err != nil {
		spanErr(span, err)
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var out []intake.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			spanErr(span, err)
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		spanErr(span, err)
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// DeleteBefore summarizes then removes all rows older than cutoff in one
// transaction, so the summary describes exactly the deleted rows.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (intake.DeleteSummary, error) {
	ctx, span := startSpan(ctx, "pgstore.DeleteBefore", "DELETE")
	defer span.End()

	var summary intake.DeleteSummary

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		spanErr(span, err)
		return summary, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	err = tx.QueryRow(ctx,
		`SELECT count(*), count(*) FILTER (WHERE honeypot), min(ts), max(ts)
		 FROM events WHERE ts < $1`, cutoff,
	).Scan(&summary.Count, &summary.Honeypot, &summary.Oldest, &summary.Newest)
	if err != nil {
		spanErr(span, err)
		return summary, fmt.Errorf("summarize deletion: %w", err)
	}

	rows, err := tx.Query(ctx,
		`SELECT classification, count(*) FROM events WHERE ts < $1
		 GROUP BY classification ORDER BY count(*) DESC, classification ASC`, cutoff,
	)
	if err != nil {
		spanErr(span, err)
		return summary, fmt.Errorf("classification breakdown: %w", err)
	}
	for rows.Next() {
		var b intake.Bucket
		if err := rows.Scan(&b.Value, &b.Count); err != nil {
			rows.Close()
			spanErr(span, err)
			return summary, fmt.Errorf("scan breakdown: %w", err)
		}
		summary.ByClassification = append(summary.ByClassification, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		spanErr(span, err)
		return summary, fmt.Errorf("iterate breakdown: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM events WHERE ts < $1`, cutoff); err != nil {
		spanErr(span, err)
		return summary, fmt.Errorf("delete events: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		spanErr(span, err)
		return summary, fmt.Errorf("commit: %w", err)
	}
	return summary, nil
}

// InsertRetentionRun appends one retention audit row.
func (s *Store) InsertRetentionRun(ctx context.Context, run *intake.RetentionRun) error {
	ctx, span := startSpan(ctx, "pgstore.InsertRetentionRun", "INSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO retention_log (ran_at, retention_days, deleted, honeypot, oldest_deleted, newest_deleted)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		run.RanAt, run.RetentionDays, run.Deleted, run.Honeypot, run.OldestDeleted, run.NewestDeleted,
	)
	if err != nil {
		spanErr(span, err)
		return fmt.Errorf("insert retention run: %w", err)
	}
	return nil
}

// InsertCSPReport appends a policy-violation report.
func (s *Store) InsertCSPReport(ctx context.Context, rep *intake.CSPReport) error {
	ctx, span := startSpan(ctx, "pgstore.InsertCSPReport", "INSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO csp_reports (received_at, reference, colo, user_agent, document_uri, blocked_uri, violated_directive, original_policy)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		rep.ReceivedAt, nullString(rep.Reference), nullString(rep.Colo), nullString(rep.UserAgent),
		nullString(rep.DocumentURI), nullString(rep.BlockedURI),
		nullString(rep.ViolatedDirective), nullString(rep.OriginalPolicy),
	)
	if err != nil {
		spanErr(span, err)
		return fmt.Errorf("insert csp report: %w", err)
	}
	return nil
}

// scanEvent reads one events row. Nullable text columns map to empty strings.
func scanEvent(row pgx.Row) (*intake.Event, error) {
	var (
		e          intake.Event
		ip         *string
		country    *string
		asn        *int64
		colo       *string
		channel    string
		label      *string
		class      string
		userAgent  *string
		reference  *string
		fieldsJSON []byte
	)

	err := row.Scan(
		&e.ID, &e.Timestamp, &ip, &country, &asn, &colo, &channel, &label,
		&e.HoneypotTripped, &e.Score, &class, &userAgent, &reference, &fieldsJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}

	e.SourceIdentity = deref(ip)
	e.Geo.Country = deref(country)
	e.Geo.Colo = deref(colo)
	if asn != nil {
		e.Geo.ASN = *asn
	}
	e.Channel = intake.Channel(channel)
	e.Label = deref(label)
	e.Classification = intake.Classification(class)
	e.UserAgent = deref(userAgent)
	e.Reference = deref(reference)

	if len(fieldsJSON) > 0 {
		if err := json.Unmarshal(fieldsJSON, &e.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal fields for event %d: %w", e.ID, err)
		}
	}
	return &e, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullInt64(n int64) *int64 {
	if n == 0 {
		return nil
	}
	return &n
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
