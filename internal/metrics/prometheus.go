package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the UDP logger service
type Metrics struct {
	// UDP ingest metrics
	DatagramsReceived prometheus.Counter
	DatagramsDropped  prometheus.Counter
	BytesReceived     prometheus.Counter

	// Source table metrics
	ActiveSources    prometheus.Gauge
	PendingBytes     prometheus.Gauge
	TableCompactions prometheus.Counter

	// Log output metrics
	LinesWritten      prometheus.Counter
	Flushes           *prometheus.CounterVec
	LogRotations      prometheus.Counter
	LogRotationErrors prometheus.Counter
	LogWriteErrors    prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates all Prometheus metrics and registers them with the
// default registerer.
func NewMetrics() *Metrics {
	return NewMetricsOn(prometheus.DefaultRegisterer)
}

// NewMetricsOn creates all Prometheus metrics registered with reg.
func NewMetricsOn(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// UDP ingest metrics
		DatagramsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "udplogger_datagrams_received_total",
			Help: "Total number of UDP datagrams received",
		}),
		DatagramsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "udplogger_datagrams_dropped_total",
			Help: "Total number of UDP datagrams dropped because no source slot was available",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "udplogger_bytes_received_total",
			Help: "Total number of payload bytes received",
		}),

		// Source table metrics
		ActiveSources: factory.NewGauge(prometheus.GaugeOpts{
			Name: "udplogger_active_sources",
			Help: "Current number of tracked sources",
		}),
		PendingBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "udplogger_pending_bytes",
			Help: "Current number of buffered bytes not yet written out",
		}),
		TableCompactions: factory.NewCounter(prometheus.CounterOpts{
			Name: "udplogger_table_compactions_total",
			Help: "Total number of source table compactions",
		}),

		// Log output metrics
		LinesWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "udplogger_lines_written_total",
			Help: "Total number of log lines written",
		}),
		Flushes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "udplogger_flushes_total",
			Help: "Total number of source buffer flushes by trigger",
		}, []string{"trigger"}),
		LogRotations: factory.NewCounter(prometheus.CounterOpts{
			Name: "udplogger_log_rotations_total",
			Help: "Total number of daily log file rotations",
		}),
		LogRotationErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "udplogger_log_rotation_errors_total",
			Help: "Total number of failed attempts to open a new daily log file",
		}),
		LogWriteErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "udplogger_log_write_errors_total",
			Help: "Total number of log file write errors",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "udplogger_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "udplogger_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// RecordDatagramReceived records a received datagram and its payload size
func (m *Metrics) RecordDatagramReceived(sizeBytes int) {
	m.DatagramsReceived.Inc()
	m.BytesReceived.Add(float64(sizeBytes))
}

// RecordDatagramDropped increments the dropped datagrams counter
func (m *Metrics) RecordDatagramDropped() {
	m.DatagramsDropped.Inc()
}

// SetActiveSources sets the current number of tracked sources
func (m *Metrics) SetActiveSources(count int) {
	m.ActiveSources.Set(float64(count))
}

// SetPendingBytes sets the current number of buffered bytes
func (m *Metrics) SetPendingBytes(n int) {
	m.PendingBytes.Set(float64(n))
}

// RecordCompaction increments the table compactions counter
func (m *Metrics) RecordCompaction() {
	m.TableCompactions.Inc()
}

// RecordLinesWritten adds to the lines written counter
func (m *Metrics) RecordLinesWritten(n int) {
	m.LinesWritten.Add(float64(n))
}

// RecordFlush increments the flush counter for the given trigger
func (m *Metrics) RecordFlush(trigger string) {
	m.Flushes.WithLabelValues(trigger).Inc()
}

// RecordRotation increments the log rotations counter
func (m *Metrics) RecordRotation() {
	m.LogRotations.Inc()
}

// RecordRotationError increments the rotation errors counter
func (m *Metrics) RecordRotationError() {
	m.LogRotationErrors.Inc()
}

// RecordWriteError increments the write errors counter
func (m *Metrics) RecordWriteError() {
	m.LogWriteErrors.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
