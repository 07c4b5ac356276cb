package hub

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the hub's instrumentation. Registering on a caller
// supplied registry keeps tests from colliding on the global one.
type Metrics struct {
	Bumps            *prometheus.CounterVec
	Broadcasts       prometheus.Counter
	DroppedClients   prometheus.Counter
	ConnectedClients prometheus.Gauge
}

// NewMetrics builds and registers the hub metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Bumps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "freshness_bumps_total",
			Help: "Version bumps recorded, by server-side entity key.",
		}, []string{"entity"}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "freshness_broadcasts_total",
			Help: "Messages broadcast to the notification channel.",
		}),
		DroppedClients: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "freshness_dropped_clients_total",
			Help: "Clients disconnected because their send queue filled up.",
		}),
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "freshness_connected_clients",
			Help: "Currently connected notification clients.",
		}),
	}
	reg.MustRegister(m.Bumps, m.Broadcasts, m.DroppedClients, m.ConnectedClients)
	return m
}
