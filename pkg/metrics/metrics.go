package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Container registry metrics
	ContainersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lightd_containers_total",
			Help: "Total number of containers known to the registry",
		},
	)

	ContainersByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lightd_containers_by_state",
			Help: "Number of containers by install_state",
		},
		[]string{"state"},
	)

	InstallDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lightd_install_duration_seconds",
			Help:    "Time taken for the lifecycle engine to install a container",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	InstallsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lightd_installs_failed_total",
			Help: "Total number of install/reinstall attempts that ended in Failed",
		},
	)

	// Port pool metrics
	PortPoolAvailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lightd_port_pool_available",
			Help: "Number of ports in the pool currently not in use",
		},
	)

	PortPoolInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lightd_port_pool_in_use",
			Help: "Number of ports in the pool currently allocated",
		},
	)

	PortPoolExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lightd_port_pool_exhausted_total",
			Help: "Total number of allocation attempts that found no available port",
		},
	)

	// Firewall metrics
	FirewallRulesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lightd_firewall_rules_total",
			Help: "Total number of firewall rules currently persisted",
		},
	)

	// Event hub metrics
	EventBroadcastDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightd_event_broadcast_dropped_total",
			Help: "Total number of outbound events dropped because a subscriber lagged",
		},
		[]string{"internal_id"},
	)

	ConsoleReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightd_console_reconnects_total",
			Help: "Total number of console streamer reconnect attempts per container",
		},
		[]string{"internal_id"},
	)

	// Billing metrics
	BillingSamplesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lightd_billing_samples_total",
			Help: "Total number of usage samples collected by the billing tracker",
		},
	)

	BillingCollectionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lightd_billing_collection_duration_seconds",
			Help:    "Time taken for one billing tracker collection pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	// HTTP adapter metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightd_http_requests_total",
			Help: "Total number of HTTP requests by route and status",
		},
		[]string{"route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lightd_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	WebSocketConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lightd_websocket_connections_active",
			Help: "Number of currently open WebSocket connections",
		},
	)
)

func init() {
	prometheus.MustRegister(ContainersTotal)
	prometheus.MustRegister(ContainersByState)
	prometheus.MustRegister(InstallDuration)
	prometheus.MustRegister(InstallsFailed)

	prometheus.MustRegister(PortPoolAvailable)
	prometheus.MustRegister(PortPoolInUse)
	prometheus.MustRegister(PortPoolExhaustedTotal)

	prometheus.MustRegister(FirewallRulesTotal)

	prometheus.MustRegister(EventBroadcastDropped)
	prometheus.MustRegister(ConsoleReconnects)

	prometheus.MustRegister(BillingSamplesTotal)
	prometheus.MustRegister(BillingCollectionDuration)

	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(WebSocketConnectionsActive)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
