package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prom bundles the Prometheus instruments for the admission layer.
type Prom struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	AlertsTotal     *prometheus.CounterVec
	StoreErrors     prometheus.Counter
}

// NewProm registers the admission instruments on reg.
func NewProm(reg prometheus.Registerer) *Prom {
	p := &Prom{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_requests_total",
				Help: "Requests seen by the admission layer, by terminal state and limit tier",
			},
			[]string{"state", "tier"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_request_duration_seconds",
				Help:    "Downstream request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"state"},
		),
		AlertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_alerts_total",
				Help: "Rejection-ratio alerts raised, by key kind",
			},
			[]string{"kind"},
		),
		StoreErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeeper_counter_store_errors_total",
				Help: "Counter store failures recovered via fail-open fallback",
			},
		),
	}
	reg.MustRegister(p.RequestsTotal, p.RequestDuration, p.AlertsTotal, p.StoreErrors)
	return p
}

// Observe records one event and any alerts it raised.
func (p *Prom) Observe(ev Event, alerts []Alert) {
	if p == nil {
		return
	}
	p.RequestsTotal.WithLabelValues(ev.State.String(), ev.LimitType).Inc()
	p.RequestDuration.WithLabelValues(ev.State.String()).Observe(ev.Latency.Seconds())
	for _, a := range alerts {
		p.AlertsTotal.WithLabelValues(a.Kind).Inc()
	}
}
