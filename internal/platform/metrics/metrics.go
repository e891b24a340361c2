package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "orchestrator"

// Metrics holds Prometheus collectors for the stream orchestrator. It
// satisfies supervisor.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal  *prometheus.CounterVec
	errorsTotal    prometheus.Counter
	commandsTotal  *prometheus.CounterVec
	streamsCreated prometheus.Counter
	streamsEvicted *prometheus.CounterVec
	ticksTotal     prometheus.Counter

	activeStreams     prometheus.Gauge
	activeSubscribers prometheus.Gauge
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests received",
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands routed to engines by command and result",
		}, []string{"command", "result"}),
		streamsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_created_total",
			Help:      "Engines created on demand",
		}),
		streamsEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_evicted_total",
			Help:      "Engines removed, by reason",
		}, []string{"reason"}),
		ticksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Engine ticks that advanced a running timeline",
		}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Number of live engines",
		}),
		activeSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers_active",
			Help:      "Number of registered subscribers across all streams",
		}),
	}

	m.registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.commandsTotal,
		m.streamsCreated,
		m.streamsEvicted,
		m.ticksTotal,
		m.activeStreams,
		m.activeSubscribers,
	)
	return m
}

// IncRequests counts one request against its route pattern.
func (m *Metrics) IncRequests(method, route string) {
	m.requestsTotal.WithLabelValues(method, route).Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// StreamCreated implements supervisor.Recorder.
func (m *Metrics) StreamCreated() {
	m.streamsCreated.Inc()
}

// StreamEvicted implements supervisor.Recorder.
func (m *Metrics) StreamEvicted(reason string) {
	m.streamsEvicted.WithLabelValues(reason).Inc()
}

// CommandRouted implements supervisor.Recorder.
func (m *Metrics) CommandRouted(command, result string) {
	m.commandsTotal.WithLabelValues(command, result).Inc()
}

// EngineTicked implements supervisor.Recorder. It runs on engine goroutines.
func (m *Metrics) EngineTicked() {
	m.ticksTotal.Inc()
}

// SetActiveStreams sets the live engine gauge.
func (m *Metrics) SetActiveStreams(n int) {
	m.activeStreams.Set(float64(n))
}

// SetActiveSubscribers sets the subscriber gauge.
func (m *Metrics) SetActiveSubscribers(n int) {
	m.activeSubscribers.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		h.ServeHTTP(w, r)
	})
}
