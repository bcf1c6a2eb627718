package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "relay_api_requests_total", Help: "API requests"},
		[]string{"endpoint", "status"},
	)
	Scans = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "relay_dispatch_scans_total", Help: "Dispatch scans"},
	)
	DueItems = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "relay_dispatch_due_items", Help: "Due items per scan",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100}},
	)
	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "relay_deliveries_total", Help: "Delivery outcomes"},
		[]string{"result"},
	)
	SendLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "relay_send_latency_seconds", Help: "chat.postMessage latency"},
	)
	Rotations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "relay_token_rotations_total", Help: "Credential rotation outcomes"},
		[]string{"result"},
	)
	Alerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "relay_reauth_alerts_total", Help: "Re-authorization alert publishes"},
		[]string{"result"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(APIRequests, Scans, DueItems, Deliveries, SendLatency, Rotations, Alerts)
}
