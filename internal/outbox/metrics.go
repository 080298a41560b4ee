package outbox

import "github.com/prometheus/client_golang/prometheus"

// Metrics is optional; a nil *Metrics records nothing.
type Metrics struct {
	PublishedTotal   *prometheus.CounterVec
	FailedTotal      *prometheus.CounterVec
	DeadTotal        *prometheus.CounterVec
	MarkErrorsTotal  prometheus.Counter
	PassesTotal      *prometheus.CounterVec
	RequeuedTotal    prometheus.Counter
	PassDuration     prometheus.Histogram
	LagSeconds       prometheus.Gauge
	AppendedTotal    *prometheus.CounterVec
	ClaimedTotal     prometheus.Counter
	SkippedLockTotal prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "outbox_published_total", Help: "Published outbox events."},
			[]string{"event_type"},
		),
		FailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "outbox_failed_total", Help: "Failed outbox publish attempts."},
			[]string{"event_type"},
		),
		DeadTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "outbox_dead_total", Help: "Outbox events that hit the retry cutoff."},
			[]string{"event_type"},
		),
		MarkErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "outbox_mark_errors_total", Help: "Status updates that failed after a delivery attempt."},
		),
		PassesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "outbox_drain_passes_total", Help: "Drain passes by result."},
			[]string{"result"},
		),
		RequeuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "outbox_requeued_total", Help: "Rows recovered from a stuck PROCESSING state."},
		),
		PassDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{Name: "outbox_drain_duration_seconds", Help: "Drain pass duration.", Buckets: prometheus.DefBuckets},
		),
		LagSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "outbox_lag_seconds", Help: "Lag in seconds for oldest pending outbox event."},
		),
		AppendedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "outbox_appended_total", Help: "Events appended to the outbox."},
			[]string{"event_type"},
		),
		ClaimedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "outbox_claimed_total", Help: "Rows claimed by drain passes."},
		),
		SkippedLockTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "outbox_drain_lock_busy_total", Help: "Passes skipped because another instance held the drain lock."},
		),
	}
	reg.MustRegister(
		m.PublishedTotal, m.FailedTotal, m.DeadTotal, m.MarkErrorsTotal, m.PassesTotal,
		m.RequeuedTotal, m.PassDuration, m.LagSeconds, m.AppendedTotal, m.ClaimedTotal, m.SkippedLockTotal,
	)
	return m
}

func (m *Metrics) published(eventType string) {
	if m != nil {
		m.PublishedTotal.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) failed(eventType string) {
	if m != nil {
		m.FailedTotal.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) dead(eventType string) {
	if m != nil {
		m.DeadTotal.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) markError() {
	if m != nil {
		m.MarkErrorsTotal.Inc()
	}
}

func (m *Metrics) appended(eventType string) {
	if m != nil {
		m.AppendedTotal.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) claimed(n int) {
	if m != nil {
		m.ClaimedTotal.Add(float64(n))
	}
}

func (m *Metrics) pass(result string, seconds float64) {
	if m != nil {
		m.PassesTotal.WithLabelValues(result).Inc()
		m.PassDuration.Observe(seconds)
	}
}

func (m *Metrics) requeued(n int64) {
	if m != nil && n > 0 {
		m.RequeuedTotal.Add(float64(n))
	}
}

func (m *Metrics) lockBusy() {
	if m != nil {
		m.SkippedLockTotal.Inc()
	}
}

func (m *Metrics) lag(seconds float64) {
	if m != nil {
		m.LagSeconds.Set(seconds)
	}
}
