// Package metrics exposes Prometheus collectors for the dashboard.
// All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "comissao"

type Metrics struct {
	registry *prometheus.Registry

	servicesCreated  *prometheus.CounterVec
	adminActions     *prometheus.CounterVec
	duplicateChecks  *prometheus.CounterVec
	eventsPublished  *prometheus.CounterVec
	exportsProcessed *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		servicesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "services_created_total",
			Help:      "Services created, by service type and whether they count towards the month total.",
		}, []string{"service_type", "included"}),
		adminActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admin_actions_total",
			Help:      "Authorize, revoke and delete attempts by outcome.",
		}, []string{"action", "outcome"}),
		duplicateChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_checks_total",
			Help:      "Duplicate title checks by outcome.",
		}, []string{"outcome"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Service events published to the broker, by event and outcome.",
		}, []string{"event", "outcome"}),
		exportsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sheet_exports_total",
			Help:      "Service events mirrored to the spreadsheet, by event and outcome.",
		}, []string{"event", "outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.servicesCreated,
		m.adminActions,
		m.duplicateChecks,
		m.eventsPublished,
		m.exportsProcessed,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ServiceCreated(serviceType string, included bool) {
	if m == nil {
		return
	}
	m.servicesCreated.WithLabelValues(serviceType, strconv.FormatBool(included)).Inc()
}

func (m *Metrics) AdminAction(action, outcome string) {
	if m == nil {
		return
	}
	m.adminActions.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) DuplicateCheck(outcome string) {
	if m == nil {
		return
	}
	m.duplicateChecks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) EventPublished(event string, err error) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(event, outcome(err)).Inc()
}

func (m *Metrics) SheetExport(event string, err error) {
	if m == nil {
		return
	}
	m.exportsProcessed.WithLabelValues(event, outcome(err)).Inc()
}

func (m *Metrics) ObserveHTTP(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(d.Seconds())
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
