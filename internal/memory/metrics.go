package memory

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts store operations.
	// Labels: backend, op (store, search, stats), result (success, error)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arcyn",
			Subsystem: "memory",
			Name:      "operations_total",
			Help:      "Total number of memory store operations",
		},
		[]string{"backend", "op", "result"},
	)

	// OperationDuration tracks how long store operations take.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "arcyn",
			Subsystem: "memory",
			Name:      "operation_duration_seconds",
			Help:      "Duration of memory store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "op"},
	)

	// RecordsTotal is the record count last reported by Stats.
	RecordsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "arcyn",
			Subsystem: "memory",
			Name:      "records",
			Help:      "Number of records in the memory store as of the last stats call",
		},
		[]string{"backend"},
	)

	// SearchHits tracks how many records a search returned.
	SearchHits = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "arcyn",
			Subsystem: "memory",
			Name:      "search_hits",
			Help:      "Number of records returned per search",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50},
		},
		[]string{"backend"},
	)
)

// instrumented records Prometheus metrics around another Store.
type instrumented struct {
	next    Store
	backend string
}

// Instrument wraps s so every call is counted and timed under backend.
func Instrument(s Store, backend string) Store {
	if s == nil {
		return nil
	}
	return &instrumented{next: s, backend: backend}
}

func (m *instrumented) observe(op string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	OperationsTotal.WithLabelValues(m.backend, op, result).Inc()
	OperationDuration.WithLabelValues(m.backend, op).Observe(time.Since(start).Seconds())
}

func (m *instrumented) Store(ctx context.Context, goal string, content map[string]any) (*StoreResult, error) {
	start := time.Now()
	res, err := m.next.Store(ctx, goal, content)
	m.observe("store", start, err)
	return res, err
}

func (m *instrumented) Search(ctx context.Context, pattern string, limit int) (*SearchResult, error) {
	start := time.Now()
	res, err := m.next.Search(ctx, pattern, limit)
	m.observe("search", start, err)
	if err == nil {
		SearchHits.WithLabelValues(m.backend).Observe(float64(res.Count))
	}
	return res, err
}

func (m *instrumented) Stats(ctx context.Context) (*Stats, error) {
	start := time.Now()
	st, err := m.next.Stats(ctx)
	m.observe("stats", start, err)
	if err == nil {
		RecordsTotal.WithLabelValues(m.backend).Set(float64(st.Records))
	}
	return st, err
}
