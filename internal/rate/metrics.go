package rate

import "github.com/prometheus/client_golang/prometheus"

var (
	retryAfterGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gohome_rate_limit_retry_after_seconds",
			Help: "Cooldown applied after the last 429, in seconds",
		},
		[]string{"provider"},
	)
	lastStatusGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gohome_rate_limit_last_status_code",
			Help: "Last HTTP status code seen by the rate guard",
		},
		[]string{"provider"},
	)
	rejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gohome_rate_limit_rejected_total",
			Help: "Requests refused locally by the rate guard",
		},
		[]string{"provider", "reason"},
	)
)

func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{retryAfterGauge, lastStatusGauge, rejectedTotal}
}
