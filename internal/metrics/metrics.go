// Package metrics holds the Prometheus collectors for the relay and sync engine.
package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canvas_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "canvas_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	// RelayConnections is the number of open relay websocket connections.
	RelayConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "canvas_relay_connections",
			Help: "Open relay websocket connections",
		},
	)

	// RelayFrames counts relay frames by direction (in/out) and op.
	RelayFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canvas_relay_frames_total",
			Help: "Relay frames by direction and op",
		},
		[]string{"direction", "op"},
	)

	// EphemeralDropped counts ephemeral frames dropped because a queue was full
	// or the transport failed.
	EphemeralDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canvas_ephemeral_dropped_total",
			Help: "Ephemeral frames dropped",
		},
		[]string{"reason"},
	)

	// DurableWrites observes durable store write latency by op and outcome.
	DurableWrites = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "canvas_durable_write_seconds",
			Help:    "Durable store write latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"op", "outcome"},
	)
)

// ObserveDurable records one durable write started at start.
func ObserveDurable(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	DurableWrites.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}

// Middleware records request count and latency, labelled by route pattern.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		path := c.Route().Path

		httpRequestsTotal.WithLabelValues(c.Method(), path, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(c.Method(), path).Observe(time.Since(start).Seconds())
		return err
	}
}
