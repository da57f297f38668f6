package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics are registered on a per-router registry so tests can build
// several routers in one process.
type metrics struct {
	registry    *prometheus.Registry
	sessions    prometheus.Counter
	submissions *prometheus.CounterVec
	completions prometheus.Counter
	rejections  *prometheus.CounterVec
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &metrics{
		registry: reg,
		sessions: f.NewCounter(prometheus.CounterOpts{
			Namespace: "synap",
			Subsystem: "respond",
			Name:      "sessions_created_total",
			Help:      "Anonymous sessions issued",
		}),
		submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "synap",
			Subsystem: "respond",
			Name:      "submissions_total",
			Help:      "Response submissions by outcome",
		}, []string{"result"}),
		completions: f.NewCounter(prometheus.CounterOpts{
			Namespace: "synap",
			Subsystem: "respond",
			Name:      "completions_total",
			Help:      "Sessions marked complete",
		}),
		// Labels: code (service error code)
		rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "synap",
			Subsystem: "respond",
			Name:      "rejections_total",
			Help:      "Requests rejected with a service error",
		}, []string{"code"}),
	}
}
