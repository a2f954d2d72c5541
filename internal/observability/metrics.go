package observability

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector provides hooks for pipeline metrics collection.
type MetricsCollector interface {
	IncReceived()
	IncConverted()
	IncConvertFailed()
	IncTransmitted()
	IncTransmitFailed()
	IncRetried()
	IncExhausted()
	ObserveTransmitSeconds(seconds float64)
}

// InMemoryMetrics is a simple in-memory implementation for testing/demo.
type InMemoryMetrics struct {
	Received       atomic.Int64
	Converted      atomic.Int64
	ConvertFailed  atomic.Int64
	Transmitted    atomic.Int64
	TransmitFailed atomic.Int64
	Retried        atomic.Int64
	Exhausted      atomic.Int64
}

func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{}
}

func (m *InMemoryMetrics) IncReceived()       { m.Received.Add(1) }
func (m *InMemoryMetrics) IncConverted()      { m.Converted.Add(1) }
func (m *InMemoryMetrics) IncConvertFailed()  { m.ConvertFailed.Add(1) }
func (m *InMemoryMetrics) IncTransmitted()    { m.Transmitted.Add(1) }
func (m *InMemoryMetrics) IncTransmitFailed() { m.TransmitFailed.Add(1) }
func (m *InMemoryMetrics) IncRetried()        { m.Retried.Add(1) }
func (m *InMemoryMetrics) IncExhausted()      { m.Exhausted.Add(1) }

func (m *InMemoryMetrics) ObserveTransmitSeconds(float64) {}

func (m *InMemoryMetrics) GetReceived() int64       { return m.Received.Load() }
func (m *InMemoryMetrics) GetConverted() int64      { return m.Converted.Load() }
func (m *InMemoryMetrics) GetConvertFailed() int64  { return m.ConvertFailed.Load() }
func (m *InMemoryMetrics) GetTransmitted() int64    { return m.Transmitted.Load() }
func (m *InMemoryMetrics) GetTransmitFailed() int64 { return m.TransmitFailed.Load() }
func (m *InMemoryMetrics) GetRetried() int64        { return m.Retried.Load() }
func (m *InMemoryMetrics) GetExhausted() int64      { return m.Exhausted.Load() }

// PrometheusMetrics implements MetricsCollector on a prometheus registry.
type PrometheusMetrics struct {
	received       prometheus.Counter
	converted      prometheus.Counter
	convertFailed  prometheus.Counter
	transmitted    prometheus.Counter
	transmitFailed prometheus.Counter
	retried        prometheus.Counter
	exhausted      prometheus.Counter
	transmitTime   prometheus.Histogram
}

func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_messages_received_total",
			Help: "Resources accepted into the pipeline.",
		}),
		converted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_messages_converted_total",
			Help: "Resources converted to HL7.",
		}),
		convertFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_conversion_failures_total",
			Help: "Conversion attempts that failed.",
		}),
		transmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_messages_transmitted_total",
			Help: "Messages acknowledged AA by the registry.",
		}),
		transmitFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_transmission_failures_total",
			Help: "Transmission attempts that failed.",
		}),
		retried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_messages_retried_total",
			Help: "Retry tickets published.",
		}),
		exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_messages_exhausted_total",
			Help: "Messages marked Failed after the retry bound.",
		}),
		transmitTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_transmit_duration_seconds",
			Help:    "Round-trip time of registry transmissions.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		m.received, m.converted, m.convertFailed,
		m.transmitted, m.transmitFailed,
		m.retried, m.exhausted, m.transmitTime,
	)
	return m
}

func (m *PrometheusMetrics) IncReceived()       { m.received.Inc() }
func (m *PrometheusMetrics) IncConverted()      { m.converted.Inc() }
func (m *PrometheusMetrics) IncConvertFailed()  { m.convertFailed.Inc() }
func (m *PrometheusMetrics) IncTransmitted()    { m.transmitted.Inc() }
func (m *PrometheusMetrics) IncTransmitFailed() { m.transmitFailed.Inc() }
func (m *PrometheusMetrics) IncRetried()        { m.retried.Inc() }
func (m *PrometheusMetrics) IncExhausted()      { m.exhausted.Inc() }

func (m *PrometheusMetrics) ObserveTransmitSeconds(s float64) { m.transmitTime.Observe(s) }
