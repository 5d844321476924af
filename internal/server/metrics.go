package server

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "repolens"
	metricsSubsystem = "http"
	unmatchedRoute   = "unmatched"
)

type httpMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge
}

func newHTTPMetrics(registerer prometheus.Registerer) *httpMetrics {
	metrics := &httpMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"method", "route"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "in_flight_requests",
			Help:      "HTTP requests currently being served.",
		}),
	}
	if registerer != nil {
		registerer.MustRegister(metrics.requestsTotal, metrics.requestDuration, metrics.inFlight)
	}
	return metrics
}

// middleware records request counts and latency. Handler errors are rendered here so
// the recorded status matches what the client receives.
func (metrics *httpMetrics) middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(echoContext echo.Context) error {
		metrics.inFlight.Inc()
		defer metrics.inFlight.Dec()
		start := time.Now()
		if handlerError := next(echoContext); handlerError != nil {
			echoContext.Error(handlerError)
		}
		route := echoContext.Path()
		if route == "" {
			route = unmatchedRoute
		}
		method := echoContext.Request().Method
		metrics.requestsTotal.WithLabelValues(method, route, strconv.Itoa(echoContext.Response().Status)).Inc()
		metrics.requestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		return nil
	}
}
