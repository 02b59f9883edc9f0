package reconcile

import "github.com/prometheus/client_golang/prometheus"

var (
	ticks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gohome_spotify_reconcile_ticks_total",
			Help: "Reconcile ticks by result",
		},
		[]string{"result"},
	)
	ticksSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gohome_spotify_reconcile_skipped_total",
		Help: "Reconcile ticks skipped because one was already running",
	})
	registered = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gohome_spotify_accessories_registered",
		Help: "Accessories currently registered with the host",
	})
	registrations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gohome_spotify_accessory_registrations_total",
		Help: "Accessories registered with the host",
	})
	unregistrations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gohome_spotify_accessory_unregistrations_total",
		Help: "Accessories unregistered from the host",
	})
	tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gohome_spotify_reconcile_duration_seconds",
		Help:    "Reconcile tick duration",
		Buckets: prometheus.DefBuckets,
	})
)

// MetricsCollectors returns the reconciler collectors.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{ticks, ticksSkipped, registered, registrations, unregistrations, tickDuration}
}
