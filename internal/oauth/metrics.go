package oauth

import "github.com/prometheus/client_golang/prometheus"

func providerCounter(name, help string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Name: "gohome_oauth_" + name, Help: help}, []string{"provider"})
}

func providerGauge(name, help string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "gohome_oauth_" + name, Help: help}, []string{"provider"})
}

var (
	refreshSuccess = providerCounter("refresh_success_total", "Refresh-token exchanges that returned an access token")
	refreshFailure = providerCounter("refresh_failure_total", "Refresh-token exchanges that failed")
	cacheHits      = providerCounter("token_cache_hits_total", "Token calls answered without an exchange")
	rotations      = providerCounter("refresh_token_rotations_total", "Exchanges that returned a new refresh token")
	persistFailure = providerCounter("persist_failure_total", "Rotated refresh tokens that could not be written to the config file")

	tokenValid      = providerGauge("token_valid", "1 while a cached access token is held")
	remotePersistOK = providerGauge("remote_persist_ok", "1 if the last mirror write succeeded")

	refreshDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gohome_oauth_refresh_duration_seconds",
		Help:    "Time spent in refresh-token exchanges",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 15},
	}, []string{"provider"})
)

// MetricsCollectors returns the token cache collectors.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		refreshSuccess,
		refreshFailure,
		cacheHits,
		rotations,
		persistFailure,
		tokenValid,
		remotePersistOK,
		refreshDuration,
	}
}
