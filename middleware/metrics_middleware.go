package middleware

import (
	"context"
	"time"

	"glweb/message"
	"glweb/status"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the client call collectors.
type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "glweb",
			Subsystem: "client",
			Name:      "calls_total",
			Help:      "Calls by method and resulting gRPC status.",
		}, []string{"method", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "glweb",
			Subsystem: "client",
			Name:      "call_duration_seconds",
			Help:      "Round trip latency by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
	if reg != nil {
		reg.MustRegister(m.calls, m.duration)
	}
	return m
}

// TransportErrorCode labels calls that never got a gRPC status.
const TransportErrorCode = "TRANSPORT_ERROR"

// Middleware records one observation per call.
func (m *Metrics) Middleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			m.duration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())

			code := TransportErrorCode
			if err == nil {
				code = status.Name(resp.Code())
			}
			m.calls.WithLabelValues(req.Method, code).Inc()
			return resp, err
		}
	}
}
