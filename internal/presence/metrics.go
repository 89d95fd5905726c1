package presence

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairpad_cursor_publishes_total",
		Help: "Cursor records written to the keyspace.",
	})

	deadBandSuppressedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairpad_cursor_deadband_suppressed_total",
		Help: "Cursor moves suppressed by the dead-band filter.",
	})

	rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairpad_cursor_rate_limited_total",
		Help: "Cursor moves dropped by the publish rate limiter.",
	})
)
