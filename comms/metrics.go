package comms

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the client's prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	Calls        *prometheus.CounterVec
	CallDuration *prometheus.HistogramVec
	Delivered    *prometheus.CounterVec
	Published    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mvsim",
			Name:      "service_calls_total",
			Help:      "Service calls by service and result.",
		}, []string{"service", "result"}),
		CallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mvsim",
			Name:      "service_call_duration_seconds",
			Help:      "Service call latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"service"}),
		Delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mvsim",
			Name:      "topic_messages_delivered_total",
			Help:      "Messages handed to subscription handlers.",
		}, []string{"topic"}),
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mvsim",
			Name:      "topic_messages_published_total",
			Help:      "Messages published by advertised topics.",
		}, []string{"topic"}),
	}
	reg.MustRegister(m.Calls, m.CallDuration, m.Delivered, m.Published)
	return m
}

func callResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case isTimeout(err):
		return "timeout"
	case isTransport(err):
		return "transport"
	default:
		return "error"
	}
}

func (m *Metrics) observeCall(service string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.Calls.WithLabelValues(service, callResult(err)).Inc()
	m.CallDuration.WithLabelValues(service).Observe(time.Since(start).Seconds())
}

func (m *Metrics) delivered(topic string) {
	if m == nil {
		return
	}
	m.Delivered.WithLabelValues(topic).Inc()
}

func (m *Metrics) published(topic string) {
	if m == nil {
		return
	}
	m.Published.WithLabelValues(topic).Inc()
}
