package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Cache lookup results recorded by ObservePageCache.
const (
	CacheHit    = "hit"
	CacheMiss   = "miss"
	CacheBypass = "bypass"
)

// Cache refresh outcomes recorded by ObserveRefresh.
const (
	RefreshFilled  = "filled"
	RefreshSkipped = "skipped"
	RefreshBusy    = "busy"
	RefreshFailed  = "failed"
)

// Metrics holds the Prometheus metrics registry and the directory meters.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry          *prometheus.Registry
	OperationDuration *prometheus.HistogramVec
	OperationTotal    *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
	PageCache         *prometheus.CounterVec
	CacheRefresh      *prometheus.CounterVec
	RangeQueries      *prometheus.CounterVec
	RowsRead          prometheus.Counter
	IndexSize         prometheus.Gauge
}

// NewMetrics creates a custom Prometheus registry with the contacts metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	opDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "contacts_operation_duration_seconds",
		Help:    "Duration of operations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

	opTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "contacts_operation_total",
		Help: "Total number of operations.",
	}, []string{"operation", "status"})

	errorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "contacts_errors_total",
		Help: "Total number of errors.",
	}, []string{"operation", "type"})

	pageCache := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "contacts_page_cache_total",
		Help: "First-page cache lookups by result.",
	}, []string{"result"})

	cacheRefresh := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "contacts_cache_refresh_total",
		Help: "First-page cache refresh attempts by outcome.",
	}, []string{"outcome"})

	rangeQueries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "contacts_range_queries_total",
		Help: "Range queries issued against the contact store.",
	}, []string{"kind"})

	rowsRead := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "contacts_rows_read_total",
		Help: "Data rows consumed from range queries.",
	})

	indexSize := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "contacts_index_size",
		Help: "Contact ids in the current identifier index.",
	})

	reg.MustRegister(opDuration, opTotal, errorsTotal, pageCache, cacheRefresh, rangeQueries, rowsRead, indexSize)

	return &Metrics{
		Registry:          reg,
		OperationDuration: opDuration,
		OperationTotal:    opTotal,
		ErrorsTotal:       errorsTotal,
		PageCache:         pageCache,
		CacheRefresh:      cacheRefresh,
		RangeQueries:      rangeQueries,
		RowsRead:          rowsRead,
		IndexSize:         indexSize,
	}
}

// ObservePageCache counts one first-page cache lookup.
func (m *Metrics) ObservePageCache(result string) {
	if m == nil {
		return
	}
	m.PageCache.WithLabelValues(result).Inc()
}

// ObserveRefresh counts one cache refresh attempt.
func (m *Metrics) ObserveRefresh(outcome string) {
	if m == nil {
		return
	}
	m.CacheRefresh.WithLabelValues(outcome).Inc()
}

// ObserveRangeQuery counts one range query and the rows it produced.
func (m *Metrics) ObserveRangeQuery(kind string, rows int) {
	if m == nil {
		return
	}
	m.RangeQueries.WithLabelValues(kind).Inc()
	m.RowsRead.Add(float64(rows))
}

// SetIndexSize records the size of the identifier index.
func (m *Metrics) SetIndexSize(n int) {
	if m == nil {
		return
	}
	m.IndexSize.Set(float64(n))
}

// ObserveError counts an error of the given type for an operation.
func (m *Metrics) ObserveError(operation, kind string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(operation, kind).Inc()
}
