// Package metrics exposes scraper activity as Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	PhaseLocation = "location"
	PhaseSearch   = "search"
	PhaseDetail   = "detail"
)

// Metrics bundles the collectors on a dedicated registry. All methods are
// safe on a nil receiver.
type Metrics struct {
	Registry       *prometheus.Registry
	Requests       *prometheus.CounterVec
	RateLimitWait  *prometheus.HistogramVec
	Backoff        *prometheus.GaugeVec
	SessionLookups *prometheus.CounterVec
	Records        *prometheus.CounterVec
	FetchFailures  *prometheus.CounterVec
	Runs           *prometheus.CounterVec
	RunDuration    *prometheus.HistogramVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_requests_total",
			Help: "Page navigations issued per site and workflow phase.",
		}, []string{"site", "phase"}),
		RateLimitWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraper_rate_limit_wait_seconds",
			Help:    "Time spent waiting for admission by the rate governor.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"site"}),
		Backoff: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scraper_backoff_multiplier",
			Help: "Current backoff multiplier applied to request delays.",
		}, []string{"site"}),
		SessionLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_session_lookups_total",
			Help: "Session cache lookups by result (hit, miss, error).",
		}, []string{"site", "result"}),
		Records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_records_total",
			Help: "Product records extracted, by validation outcome.",
		}, []string{"site", "valid"}),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_fetch_failures_total",
			Help: "Failed workflow steps by reason.",
		}, []string{"site", "reason"}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_runs_total",
			Help: "Completed scrape runs by status.",
		}, []string{"site", "status"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraper_run_duration_seconds",
			Help:    "Wall time of a complete scrape run.",
			Buckets: prometheus.ExponentialBuckets(5, 2, 8),
		}, []string{"site"}),
	}

	registry.MustRegister(m.Requests, m.RateLimitWait, m.Backoff, m.SessionLookups,
		m.Records, m.FetchFailures, m.Runs, m.RunDuration)
	return m
}

func (m *Metrics) IncRequest(site, phase string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(site, phase).Inc()
}

// ObserveWait implements ratelimit.Observer.
func (m *Metrics) ObserveWait(site string, d time.Duration) {
	if m == nil {
		return
	}
	m.RateLimitWait.WithLabelValues(site).Observe(d.Seconds())
}

// SetBackoff implements ratelimit.Observer.
func (m *Metrics) SetBackoff(site string, factor float64) {
	if m == nil {
		return
	}
	m.Backoff.WithLabelValues(site).Set(factor)
}

func (m *Metrics) IncSessionLookup(site, result string) {
	if m == nil {
		return
	}
	m.SessionLookups.WithLabelValues(site, result).Inc()
}

func (m *Metrics) IncRecord(site string, valid bool) {
	if m == nil {
		return
	}
	m.Records.WithLabelValues(site, strconv.FormatBool(valid)).Inc()
}

func (m *Metrics) IncFailure(site, reason string) {
	if m == nil {
		return
	}
	m.FetchFailures.WithLabelValues(site, reason).Inc()
}

func (m *Metrics) ObserveRun(site string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	m.Runs.WithLabelValues(site, status).Inc()
	m.RunDuration.WithLabelValues(site).Observe(d.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
