package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	apiRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "testbot",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "API requests by route and status code",
		},
		[]string{"method", "route", "code"},
	)

	apiLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "testbot",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "API request latency",
			Buckets:   []float64{.001, .005, .025, .1, .5, 1, 5},
		},
		[]string{"method", "route"},
	)

	apiInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "testbot",
			Subsystem: "api",
			Name:      "requests_in_flight",
			Help:      "API requests currently being served",
		},
	)
)

// MetricsMiddleware records request counts and latency per route template.
// Scrapes of /metrics are not counted.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		apiInFlight.Inc()
		defer apiInFlight.Dec()

		start := time.Now()
		c.Next()

		route := routeLabel(c)
		method := c.Request.Method
		apiRequests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		apiLatency.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

// routeLabel keeps label cardinality bounded: unmatched paths share one label.
func routeLabel(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}
