// Package metrics exposes Prometheus collectors for reconciliation, commits
// and the HTTP surface.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "votecontext"

// Metrics holds the service collectors. It implements vote.Recorder.
type Metrics struct {
	fetchFailures   *prometheus.CounterVec
	pendingCount    prometheus.Histogram
	commits         *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_fetch_failures_total",
			Help:      "Repository listing or document fetches that failed during reconciliation.",
		}, []string{"stage"}),
		pendingCount: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pending_proposals",
			Help:      "Number of pending proposals returned per reconciliation.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Rationale commit attempts by outcome.",
		}, []string{"outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "code"}),
	}

	reg.MustRegister(m.fetchFailures, m.pendingCount, m.commits, m.requestDuration)
	return m
}

// FetchFailed counts a failed upstream fetch.
func (m *Metrics) FetchFailed(stage string) {
	m.fetchFailures.WithLabelValues(stage).Inc()
}

// PendingComputed observes the size of a reconciliation result.
func (m *Metrics) PendingComputed(count int) {
	m.pendingCount.Observe(float64(count))
}

// CommitFinished counts a commit attempt.
func (m *Metrics) CommitFinished(outcome string) {
	m.commits.WithLabelValues(outcome).Inc()
}

// Instrument wraps next, recording latency under route.
func (m *Metrics) Instrument(route string, next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerDuration(
		m.requestDuration.MustCurryWith(prometheus.Labels{"route": route}),
		next,
	)
}

// Handler serves the collectors registered with g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
