package dispatch

import "github.com/prometheus/client_golang/prometheus"

// Metrics is optional; a nil *Metrics records nothing.
type Metrics struct {
	MessagesTotal *prometheus.CounterVec
	OffersTotal   *prometheus.CounterVec
	SendAttempts  prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "offer_consumer_messages_total", Help: "Consumed activation messages by outcome."},
			[]string{"outcome"},
		),
		OffersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "offer_dispatch_total", Help: "Per-recipient offer outcomes."},
			[]string{"result"},
		),
		SendAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "offer_send_attempts",
			Help:    "Attempts needed per recipient.",
			Buckets: []float64{1, 2, 3, 5, 8},
		}),
	}
	reg.MustRegister(m.MessagesTotal, m.OffersTotal, m.SendAttempts)
	return m
}

func (m *Metrics) message(outcome string) {
	if m != nil {
		m.MessagesTotal.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) offer(result string) {
	if m != nil {
		m.OffersTotal.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) attempts(n int) {
	if m != nil {
		m.SendAttempts.Observe(float64(n))
	}
}
