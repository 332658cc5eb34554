package petkit

import "github.com/prometheus/client_golang/prometheus"

var (
	bleAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gopetcare_ble_attempts_total",
			Help: "BLE relay session step attempts by outcome",
		},
		[]string{"step", "outcome"},
	)
	bleSessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gopetcare_ble_sessions_total",
			Help: "BLE relay sessions by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
	relayAvailableGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gopetcare_relay_available",
			Help: "Relay availability per fountain (1=available, 0=unavailable)",
		},
		[]string{"device"},
	)
	refreshSuccessGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gopetcare_refresh_success",
			Help: "Last account refresh success (1=ok, 0=error)",
		},
	)
	lastRefreshGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gopetcare_last_refresh_timestamp_seconds",
			Help: "Last successful account refresh timestamp (epoch seconds)",
		},
	)
)

// MetricsCollectors exposes the package's collectors for registration.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		bleAttemptsTotal,
		bleSessionsTotal,
		relayAvailableGauge,
		refreshSuccessGauge,
		lastRefreshGauge,
	}
}
