package fader

import "github.com/prometheus/client_golang/prometheus"

var (
	fadesStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gohome_spotify_fades_started_total",
		Help: "Volume fades started",
	})
	fadesCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gohome_spotify_fades_completed_total",
		Help: "Volume fades that reached full volume",
	})
	fadesCancelled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gohome_spotify_fades_cancelled_total",
		Help: "Volume fades cancelled before completion",
	})
	stepFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gohome_spotify_fade_step_failures_total",
		Help: "Volume fade steps whose SetVolume call failed",
	})
)

// MetricsCollectors returns the fader collectors.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{fadesStarted, fadesCompleted, fadesCancelled, stepFailures}
}
