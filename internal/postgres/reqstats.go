package postgres

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/go-core/log"
)

type (
	dbStatsKey    struct{}
	httpMethodKey struct{}
)

// ReqDBStats accumulates per-request database query statistics. The query
// tracer feeds it; RequestStats installs one per request and logs the totals.
type ReqDBStats struct {
	mu            sync.Mutex
	QueryCount    int
	TotalDuration time.Duration
	ErrorCount    int
}

// AddQuery records a single query execution.
func (s *ReqDBStats) AddQuery(dur time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.QueryCount++
	s.TotalDuration += dur
	if err != nil {
		s.ErrorCount++
	}
}

// Snapshot returns the accumulated counters under the lock.
func (s *ReqDBStats) Snapshot() (queries, errs int, total time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.QueryCount, s.ErrorCount, s.TotalDuration
}

// NewReqDBStatsContext returns a new context with an empty ReqDBStats attached.
func NewReqDBStatsContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, dbStatsKey{}, &ReqDBStats{})
}

// ReqDBStatsFromContext extracts the ReqDBStats from the context, if present.
func ReqDBStatsFromContext(ctx context.Context) (*ReqDBStats, bool) {
	s, ok := ctx.Value(dbStatsKey{}).(*ReqDBStats)
	return s, ok
}

// RequestStats is HTTP middleware that tags the request context for the query
// tracer: the HTTP method for observer labels and a fresh ReqDBStats
// accumulator. Requests that touched the database get one summary log line
// after the handler returns.
func RequestStats(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithHTTPMethod(r.Context(), r.Method)
		ctx = NewReqDBStatsContext(ctx)

		next.ServeHTTP(w, r.WithContext(ctx))

		s, ok := ReqDBStatsFromContext(ctx)
		if !ok {
			return
		}
		queries, errs, total := s.Snapshot()
		if queries == 0 {
			return
		}
		log.FromContext(ctx).Info(ctx, "request db stats",
			"db.queries", queries,
			"db.errors", errs,
			"db.duration", total.Seconds(),
		)
	})
}

// WithHTTPMethod stores the HTTP method in the context for query metrics
// labelling.
func WithHTTPMethod(ctx context.Context, method string) context.Context {
	if method == "" {
		return ctx
	}
	return context.WithValue(ctx, httpMethodKey{}, method)
}

func httpMethodFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(httpMethodKey{}).(string); ok {
		return v
	}
	return ""
}

func routePatternFromContext(ctx context.Context) string {
	if rc := chi.RouteContext(ctx); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}

// QueryObserver receives per-query metrics (wired by main for Prometheus).
type QueryObserver interface {
	ObserveQuery(ctx context.Context, method, route, outcome string, dur time.Duration)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, method, route, outcome string, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, method, route, outcome string, dur time.Duration) {
	f(ctx, method, route, outcome, dur)
}

var queryObserver atomic.Pointer[queryObserverHolder]

type queryObserverHolder struct{ QueryObserver }

// SetQueryObserver sets the global query observer (typically a Prometheus
// histogram).
func SetQueryObserver(o QueryObserver) {
	if o == nil {
		queryObserver.Store(nil)
		return
	}
	queryObserver.Store(&queryObserverHolder{QueryObserver: o})
}

func getQueryObserver() QueryObserver {
	h := queryObserver.Load()
	if h == nil {
		return nil
	}
	return h.QueryObserver
}
