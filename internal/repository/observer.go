package repository

import "time"

// QueryObserver receives the latency of every repository query, labelled by operation.
type QueryObserver interface {
	ObserveDBQuery(label string, duration time.Duration)
}

// queryTimer is embedded by the SQL repositories.
type queryTimer struct {
	observer QueryObserver
}

// SetQueryObserver attaches the sink for query latencies; nil disables timing.
func (q *queryTimer) SetQueryObserver(o QueryObserver) {
	q.observer = o
}

// observe is deferred as observe(label, time.Now()) at the top of a query method.
func (q *queryTimer) observe(label string, start time.Time) {
	if q.observer != nil {
		q.observer.ObserveDBQuery(label, time.Since(start))
	}
}
