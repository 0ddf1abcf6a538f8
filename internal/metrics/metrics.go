package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "shipping"

// Metrics groups the collectors of the shipping layer. A nil *Metrics is valid and records nothing.
type Metrics struct {
	carrierCalls    *prometheus.CounterVec
	carrierLatency  *prometheus.HistogramVec
	managerOutcomes *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		carrierCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "carrier_calls_total",
			Help:      "Carrier adapter calls by provider, operation and outcome.",
		}, []string{"provider", "op", "outcome"}),
		carrierLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "carrier_call_duration_seconds",
			Help:      "Carrier adapter call latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}, []string{"provider", "op"}),
		managerOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_results_total",
			Help:      "Shipping manager results by operation and result code.",
		}, []string{"op", "code"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "carrier_breakers_open",
			Help:      "Open circuit breakers per carrier.",
		}, []string{"provider"}),
	}
	if reg != nil {
		reg.MustRegister(m.carrierCalls, m.carrierLatency, m.managerOutcomes, m.breakerState)
	}
	return m
}

func (m *Metrics) ObserveCarrierCall(provider, op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.carrierCalls.WithLabelValues(provider, op, outcome).Inc()
	m.carrierLatency.WithLabelValues(provider, op).Observe(d.Seconds())
}

func (m *Metrics) ObserveResult(op, code string) {
	if m == nil {
		return
	}
	m.managerOutcomes.WithLabelValues(op, code).Inc()
}

// BreakerStateChanged tracks one breaker moving between open and not open.
// Breakers are per host, so the gauge counts them instead of labelling hosts.
func (m *Metrics) BreakerStateChanged(provider string, wasOpen, isOpen bool) {
	if m == nil || wasOpen == isOpen {
		return
	}
	g := m.breakerState.WithLabelValues(provider)
	if isOpen {
		g.Inc()
	} else {
		g.Dec()
	}
}
