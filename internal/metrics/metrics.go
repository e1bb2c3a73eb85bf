// Package metrics exposes Prometheus collectors for attendance runs and HTTP traffic.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors registered by New.
type Metrics struct {
	sessions *prometheus.CounterVec
	records  *prometheus.CounterVec
	duration prometheus.Histogram
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// New creates and registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollcall",
			Name:      "attendance_sessions_total",
			Help:      "Attendance runs by terminal status.",
		}, []string{"status"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollcall",
			Name:      "attendance_records_total",
			Help:      "Attendance records written by status.",
		}, []string{"status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rollcall",
			Name:      "attendance_duration_seconds",
			Help:      "Time spent processing a classroom photo.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollcall",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rollcall",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(m.sessions, m.records, m.duration, m.requests, m.latency)
	return m
}

// SessionFinished records one attendance run.
func (m *Metrics) SessionFinished(status string, elapsed time.Duration, present, absent int) {
	m.sessions.WithLabelValues(status).Inc()
	m.duration.Observe(elapsed.Seconds())
	if present > 0 {
		m.records.WithLabelValues("present").Add(float64(present))
	}
	if absent > 0 {
		m.records.WithLabelValues("absent").Add(float64(absent))
	}
}

// GinMiddleware counts requests by matched route.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.latency.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
