// Package metrics owns the Prometheus collectors exported by the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Rotation outcomes.
const (
	RotationRotated = "rotated"
	RotationUnknown = "unknown"
	RotationReused  = "reused"
	RotationExpired = "expired"
	RotationFailed  = "failed"
)

// Gate outcomes.
const (
	GateAccepted  = "accepted"
	GateAbsent    = "absent"
	GateInvalid   = "invalid"
	GateWrongKind = "wrong_kind"
	GateBadRole   = "bad_role"
)

// Metrics is safe to use as a nil pointer; every method becomes a no-op.
type Metrics struct {
	registry prometheus.Gatherer

	rotations         *prometheus.CounterVec
	familyRevocations prometheus.Counter
	revokedRecords    prometheus.Counter
	gate              *prometheus.CounterVec

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New registers all collectors on reg. Passing a fresh registry keeps tests
// isolated from the process-wide default.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "refresh_rotations_total",
			Help: "Refresh token rotation attempts by outcome.",
		}, []string{"outcome"}),
		familyRevocations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "refresh_family_revocations_total",
			Help: "Token families revoked after reuse detection or explicit request.",
		}),
		revokedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "refresh_family_revoked_records_total",
			Help: "Refresh token records transitioned to revoked by a family cascade.",
		}),
		gate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_gate_requests_total",
			Help: "Bearer authentication results per request.",
		}, []string{"outcome"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
	reg.MustRegister(
		m.rotations,
		m.familyRevocations,
		m.revokedRecords,
		m.gate,
		m.httpInFlight,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)
	return m
}

func (m *Metrics) Rotation(outcome string) {
	if m == nil {
		return
	}
	m.rotations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) FamilyRevoked(records int64) {
	if m == nil {
		return
	}
	m.familyRevocations.Inc()
	if records > 0 {
		m.revokedRecords.Add(float64(records))
	}
}

func (m *Metrics) Gate(outcome string) {
	if m == nil {
		return
	}
	m.gate.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Instrument records RPS, latency and in-flight requests. The route
// template is used as the path label so ids do not explode cardinality.
func (m *Metrics) Instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		m.httpInFlight.Inc()
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.httpRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.httpInFlight.Dec()
	}
}
