package observability

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/efebarandurmaz/repolens/internal/domain"
)

const namespace = "repolens"

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Metrics holds the Prometheus collectors for the pipeline. Each instance
// owns its registry so tests and embedded uses do not collide.
type Metrics struct {
	registry *prometheus.Registry

	IndexRuns     *prometheus.CounterVec
	IndexDuration prometheus.Histogram
	FilesSkipped  prometheus.Counter
	ChunksIndexed *prometheus.CounterVec
	Queries       *prometheus.CounterVec
	QueryDuration prometheus.Histogram
	Indexing      prometheus.Gauge
}

// NewMetrics registers the pipeline collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		IndexRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_runs_total",
			Help:      "Analyze runs by outcome.",
		}, []string{"outcome"}),
		IndexDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "index_duration_seconds",
			Help:      "Wall time of analyze runs.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}),
		FilesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_skipped_total",
			Help:      "Files dropped by the extractor.",
		}),
		ChunksIndexed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_indexed_total",
			Help:      "Chunks written to the vector store by modality.",
		}, []string{"modality"}),
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Questions answered by outcome.",
		}, []string{"outcome"}),
		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Wall time of questions including the completion call.",
			Buckets:   prometheus.DefBuckets,
		}),
		Indexing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indexing_in_progress",
			Help:      "1 while an analyze run is active.",
		}),
	}
	m.registry.MustRegister(
		m.IndexRuns, m.IndexDuration, m.FilesSkipped, m.ChunksIndexed,
		m.Queries, m.QueryDuration, m.Indexing,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveIndex records a finished analyze run.
func (m *Metrics) ObserveIndex(start time.Time, skipped, textual, code int, err error) {
	if m == nil {
		return
	}
	m.IndexRuns.WithLabelValues(outcome(err)).Inc()
	m.IndexDuration.Observe(time.Since(start).Seconds())
	m.FilesSkipped.Add(float64(skipped))
	if err == nil {
		m.ChunksIndexed.WithLabelValues(string(domain.ModalityTextual)).Add(float64(textual))
		m.ChunksIndexed.WithLabelValues(string(domain.ModalityCode)).Add(float64(code))
	}
}

// ObserveQuery records a finished question. Questions rejected because no
// repository is ready are counted as "not_ready".
func (m *Metrics) ObserveQuery(start time.Time, err error) {
	if m == nil {
		return
	}
	label := outcome(err)
	if errors.Is(err, domain.ErrNotReady) {
		label = "not_ready"
	}
	m.Queries.WithLabelValues(label).Inc()
	m.QueryDuration.Observe(time.Since(start).Seconds())
}

// SetIndexing flips the in-progress gauge.
func (m *Metrics) SetIndexing(active bool) {
	if m == nil {
		return
	}
	if active {
		m.Indexing.Set(1)
	} else {
		m.Indexing.Set(0)
	}
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}
