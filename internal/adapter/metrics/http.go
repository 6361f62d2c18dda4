package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// routeUnmatched labels requests no route matched, keeping scanners from
// inflating label cardinality.
const routeUnmatched = "unmatched"

// HTTPMetrics covers the API surface: change-feed batches, connection acks,
// the management API and the message API. Health, version, scrape and the
// long-lived /ws upgrade are not recorded.
type HTTPMetrics struct {
	Requests     *prometheus.CounterVec
	Duration     *prometheus.HistogramVec
	PayloadBytes *prometheus.HistogramVec
	InFlight     prometheus.Gauge
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "API requests by route and status class.",
		}, []string{"method", "route", "status"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "API request latency; change-feed batches include the whole fan-out.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "route"}),
		PayloadBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_payload_bytes",
			Help:      "Declared body size of change-feed batches, pushes and message writes.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
		}, []string{"route"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "API requests currently being served.",
		}),
	}

	reg.MustRegister(m.Requests, m.Duration, m.PayloadBytes, m.InFlight)
	return m
}

func untracked(route string) bool {
	switch route {
	case "/metrics", "/ws", "/version":
		return true
	}
	return strings.HasPrefix(route, "/health/")
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}

// Middleware records API requests, labelled by route template rather than path
// so connection and conversation IDs never become label values.
func (m *HTTPMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if untracked(c.Path()) {
				return next(c)
			}

			m.InFlight.Inc()
			defer m.InFlight.Dec()

			req := c.Request()
			start := time.Now()
			err := next(c)
			elapsed := time.Since(start)

			route, status := c.Path(), c.Response().Status
			var he *echo.HTTPError
			if errors.As(err, &he) {
				status = he.Code
			}
			if errors.Is(err, echo.ErrNotFound) || errors.Is(err, echo.ErrMethodNotAllowed) || route == "" {
				route = routeUnmatched
			}

			m.Requests.WithLabelValues(req.Method, route, statusClass(status)).Inc()
			m.Duration.WithLabelValues(req.Method, route).Observe(elapsed.Seconds())
			if req.Method == http.MethodPost && req.ContentLength > 0 {
				m.PayloadBytes.WithLabelValues(route).Observe(float64(req.ContentLength))
			}
			return err
		}
	}
}
