package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the shop's collectors. Use New with a dedicated registry in tests.
type Metrics struct {
	Reservations  *prometheus.CounterVec
	Confirmations *prometheus.CounterVec
	ClaimsSwept   prometheus.Counter
	StoreDuration *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lotshop",
			Name:      "reservations_total",
			Help:      "Reserve calls by outcome.",
		}, []string{"outcome"}),
		Confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lotshop",
			Name:      "confirmations_total",
			Help:      "Confirm calls by outcome.",
		}, []string{"outcome"}),
		ClaimsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lotshop",
			Name:      "claims_swept_total",
			Help:      "Expired claim entries physically removed by the sweeper.",
		}),
		StoreDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lotshop",
			Name:      "store_duration_seconds",
			Help:      "Latency of claim and inventory store calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
	reg.MustRegister(m.Reservations, m.Confirmations, m.ClaimsSwept, m.StoreDuration)
	return m
}

// ObserveSince records the elapsed time of a store call.
func (m *Metrics) ObserveSince(op string, start time.Time) {
	m.StoreDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
