package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics carries the kiosk's Prometheus collectors on a private registry,
// so independent instances (one per test, one per process) never collide.
type Metrics struct {
	Registry *prometheus.Registry

	OrdersCreated  prometheus.Counter
	Notifications  *prometheus.CounterVec
	Deliveries     *prometheus.CounterVec
	GatewaySeconds prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		OrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kiosk",
			Name:      "orders_created_total",
			Help:      "Orders materialized from completed sessions.",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kiosk",
			Name:      "notifications_total",
			Help:      "Gateway payment notifications by processing result.",
		}, []string{"result"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kiosk",
			Name:      "deliveries_total",
			Help:      "Fulfillment attempts by result.",
		}, []string{"result"}),
		GatewaySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kiosk",
			Name:      "gateway_request_seconds",
			Help:      "Invoice creation latency against the payment gateway.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(m.OrdersCreated, m.Notifications, m.Deliveries, m.GatewaySeconds)
	return m
}
