package httpx

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// unmatchedRoute labels requests no registered pattern claimed, so raw
// paths never become label values.
const unmatchedRoute = "unmatched"

type ctxKeyRoute struct{}

type routeHolder struct {
	route string
}

// WithRoute names the route for the metrics middleware further out.
func WithRoute(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h, ok := r.Context().Value(ctxKeyRoute{}).(*routeHolder); ok && h != nil {
			h.route = route
		}
		next.ServeHTTP(w, r)
	})
}

type Metrics struct {
	reqTotal    *prometheus.CounterVec
	reqLatency  *prometheus.HistogramVec
	req5xxTotal prometheus.Counter
	inFlight    prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reqTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "http_requests_total", Help: "Total number of HTTP requests."},
			[]string{"route", "method", "status"},
		),
		req5xxTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "http_requests_5xx_total", Help: "Total number of HTTP 5xx responses."},
		),
		reqLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "http_requests_in_flight", Help: "Requests currently being served."},
		),
	}
	reg.MustRegister(m.reqTotal, m.reqLatency, m.req5xxTotal, m.inFlight)
	return m
}

func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		holder := &routeHolder{route: unmatchedRoute}
		r = r.WithContext(context.WithValue(r.Context(), ctxKeyRoute{}, holder))

		m.inFlight.Inc()
		defer m.inFlight.Dec()

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		m.reqTotal.WithLabelValues(holder.route, r.Method, strconv.Itoa(rec.status)).Inc()
		m.reqLatency.WithLabelValues(holder.route, r.Method).Observe(time.Since(start).Seconds())
		if rec.status >= http.StatusInternalServerError {
			m.req5xxTotal.Inc()
		}
	})
}
