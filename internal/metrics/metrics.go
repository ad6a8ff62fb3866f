// Package metrics holds the Prometheus collectors for the board bridge.
//
// All methods are safe to call on a nil *Metrics, so components can take
// metrics as an optional dependency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "boardbridge"

// Drop reasons used as the "reason" label of the dropped counter.
const (
	ReasonAddress = "address"
	ReasonPayload = "payload"
	ReasonStorage = "storage"
)

// Metrics is the set of bridge collectors, registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	messagesReceived prometheus.Counter
	messagesDropped  *prometheus.CounterVec
	eventsRecorded   *prometheus.CounterVec
	commandsSent     *prometheus.CounterVec
	connectAttempts  *prometheus.CounterVec
	notifications    prometheus.Counter
	brokerConnected  prometheus.Gauge
	processing       prometheus.Histogram
	httpRequests     *prometheus.CounterVec
}

// New creates the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Status messages received from the broker.",
		}),
		messagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Status messages dropped, by reason.",
		}, []string{"reason"}),
		eventsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_recorded_total",
			Help:      "Events written to the registry, by kind.",
		}, []string{"kind"}),
		commandsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_sent_total",
			Help:      "Commands published to boards, by command and result.",
		}, []string{"command", "result"}),
		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_connect_attempts_total",
			Help:      "Broker connect attempts, by result.",
		}, []string{"result"}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outage_notifications_total",
			Help:      "Outage notifications sent to operators.",
		}),
		brokerConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broker_connected",
			Help:      "1 while a broker session is established.",
		}),
		processing: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_processing_seconds",
			Help:      "Time to resolve, decode and record one message.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Operator API requests by route, method and status.",
		}, []string{"route", "method", "status"}),
	}

	reg.MustRegister(
		m.messagesReceived,
		m.messagesDropped,
		m.eventsRecorded,
		m.commandsSent,
		m.connectAttempts,
		m.notifications,
		m.brokerConnected,
		m.processing,
		m.httpRequests,
	)
	return m
}

// Handler returns the exposition handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) MessageReceived() {
	if m == nil {
		return
	}
	m.messagesReceived.Inc()
}

func (m *Metrics) MessageDropped(reason string) {
	if m == nil {
		return
	}
	m.messagesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) EventRecorded(kind string) {
	if m == nil {
		return
	}
	m.eventsRecorded.WithLabelValues(kind).Inc()
}

func (m *Metrics) CommandSent(command string, ok bool) {
	if m == nil {
		return
	}
	m.commandsSent.WithLabelValues(command, result(ok)).Inc()
}

func (m *Metrics) ConnectAttempt(ok bool) {
	if m == nil {
		return
	}
	m.connectAttempts.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) NotificationSent() {
	if m == nil {
		return
	}
	m.notifications.Inc()
}

func (m *Metrics) SetBrokerConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.brokerConnected.Set(1)
		return
	}
	m.brokerConnected.Set(0)
}

// ObserveProcessing records how long one message took, in seconds.
func (m *Metrics) ObserveProcessing(seconds float64) {
	if m == nil {
		return
	}
	m.processing.Observe(seconds)
}

// HTTPRequest counts one API request.
func (m *Metrics) HTTPRequest(route, method string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, statusClass(status)).Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// statusClass folds status codes into 2xx/4xx/5xx to bound cardinality.
func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
