// Package metrics registers Prometheus instrumentation for IoTFlow Core.
//
// The Metrics struct satisfies the recorder interfaces the telemetry service
// and status cache accept, so those packages stay free of any Prometheus
// dependency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/iotflow/iotflow-core/internal/status"
)

const metricPrefix = "iotflow_"

const (
	resultSuccess = "success"
	resultError   = "error"
)

// Metrics holds all registered collectors.
type Metrics struct {
	writeTotal   *prometheus.CounterVec
	queryTotal   prometheus.Counter
	aggTotal     prometheus.Counter
	transitions  *prometheus.CounterVec
	ingestTotal  *prometheus.CounterVec
	devicesKnown prometheus.Gauge
	backendUp    prometheus.Gauge
}

// New creates and registers the collectors on the given registerer.
// Pass prometheus.DefaultRegisterer in production.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		writeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "telemetry_writes_total",
				Help: "Total telemetry writes by result",
			},
			[]string{"result"},
		),
		queryTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "telemetry_queries_total",
				Help: "Total telemetry range queries",
			},
		),
		aggTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "telemetry_aggregations_total",
				Help: "Total telemetry aggregation queries",
			},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "device_status_transitions_total",
				Help: "Total device status transitions by target state",
			},
			[]string{"to"},
		),
		ingestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_messages_total",
				Help: "Total MQTT ingest messages by result",
			},
			[]string{"result"},
		),
		devicesKnown: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "devices_tracked",
				Help: "Devices with a live status cache entry",
			},
		),
		backendUp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "telemetry_backend_available",
				Help: "Whether the telemetry storage backend is reachable (1) or degraded (0)",
			},
		),
	}

	reg.MustRegister(
		m.writeTotal,
		m.queryTotal,
		m.aggTotal,
		m.transitions,
		m.ingestTotal,
		m.devicesKnown,
		m.backendUp,
	)
	return m
}

// RecordWrite implements telemetry.Recorder.
func (m *Metrics) RecordWrite(ok bool) {
	result := resultSuccess
	if !ok {
		result = resultError
	}
	m.writeTotal.WithLabelValues(result).Inc()
}

// RecordQuery implements telemetry.Recorder.
func (m *Metrics) RecordQuery() { m.queryTotal.Inc() }

// RecordAggregate implements telemetry.Recorder.
func (m *Metrics) RecordAggregate() { m.aggTotal.Inc() }

// RecordTransition implements status.Recorder.
func (m *Metrics) RecordTransition(_, new status.Status) {
	m.transitions.WithLabelValues(string(new)).Inc()
}

// RecordIngest counts one processed MQTT message.
func (m *Metrics) RecordIngest(ok bool) {
	result := resultSuccess
	if !ok {
		result = resultError
	}
	m.ingestTotal.WithLabelValues(result).Inc()
}

// SetTrackedDevices updates the live device gauge.
func (m *Metrics) SetTrackedDevices(n int) {
	m.devicesKnown.Set(float64(n))
}

// SetBackendAvailable reflects telemetry backend reachability.
func (m *Metrics) SetBackendAvailable(available bool) {
	if available {
		m.backendUp.Set(1)
		return
	}
	m.backendUp.Set(0)
}
