// Package metrics holds the Prometheus collectors shared by the poller and the
// read API. All methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chaunceygardiner/airgradient-proxy/pkg/models"
)

const namespace = "airgradient"

// Metrics groups the collectors registered on a private registry
type Metrics struct {
	registry *prometheus.Registry

	pollsTotal       *prometheus.CounterVec
	storeWritesTotal *prometheus.CounterVec
	publishesTotal   *prometheus.CounterVec
	windowSize       *prometheus.GaugeVec
	lastReading      prometheus.Gauge
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pollsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Sensor polls by outcome.",
		}, []string{"result"}),
		storeWritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_writes_total",
			Help:      "Store writes by record type and outcome.",
		}, []string{"record_type", "result"}),
		publishesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_publishes_total",
			Help:      "MQTT publications by record type and outcome.",
		}, []string{"record_type", "result"}),
		windowSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_readings",
			Help:      "Readings held in each in-memory window.",
		}, []string{"window"}),
		lastReading: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_reading_timestamp_seconds",
			Help:      "Measurement time of the last accepted sensor reading.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Read API requests by route and status code.",
		}, []string{"route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Read API request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.pollsTotal,
		m.storeWritesTotal,
		m.publishesTotal,
		m.windowSize,
		m.lastReading,
		m.httpRequests,
		m.httpDuration,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObservePoll counts one fetch+validate outcome
func (m *Metrics) ObservePoll(result string) {
	if m == nil {
		return
	}
	m.pollsTotal.WithLabelValues(result).Inc()
}

// ObserveReading records the measurement time of an accepted reading
func (m *Metrics) ObserveReading(r models.Reading) {
	if m == nil {
		return
	}
	m.lastReading.Set(float64(r.MeasurementTime.UnixMicro()) / 1e6)
}

// ObserveWrite counts one store write
func (m *Metrics) ObserveWrite(recordType models.RecordType, err error) {
	if m == nil {
		return
	}
	m.storeWritesTotal.WithLabelValues(recordType.String(), outcome(err)).Inc()
}

// ObservePublish counts one MQTT publication
func (m *Metrics) ObservePublish(recordType models.RecordType, err error) {
	if m == nil {
		return
	}
	m.publishesTotal.WithLabelValues(recordType.String(), outcome(err)).Inc()
}

// SetWindowSizes reports the current window lengths
func (m *Metrics) SetWindowSizes(short, long int) {
	if m == nil {
		return
	}
	m.windowSize.WithLabelValues("short").Set(float64(short))
	m.windowSize.WithLabelValues("long").Set(float64(long))
}

// ObserveRequest records one served HTTP request
func (m *Metrics) ObserveRequest(route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
