package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	paymentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_created_total",
			Help: "Payment creation attempts by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	statusUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_status_updates_total",
			Help: "Status updates applied, by status and source",
		},
		[]string{"status", "source"},
	)

	gatewayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Outbound gateway requests by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	gatewayLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Duration of outbound gateway requests, retries included",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"operation"},
	)

	cachedPayments = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "payments_cached",
			Help: "Payment records currently held in memory",
		},
	)

	activePollers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "payment_pollers_active",
			Help: "Status pollers currently running",
		},
	)
)

// Monitor is the recording surface handed to services. A nil *Monitor is
// valid and records nothing.
type Monitor struct{}

func NewMonitor() *Monitor {
	return &Monitor{}
}

func (m *Monitor) TrackPaymentCreated(mode, outcome string) {
	if m == nil {
		return
	}
	paymentsCreated.WithLabelValues(mode, outcome).Inc()
}

func (m *Monitor) TrackStatusUpdate(status, source string) {
	if m == nil {
		return
	}
	statusUpdates.WithLabelValues(status, source).Inc()
}

func (m *Monitor) TrackGatewayRequest(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	gatewayRequests.WithLabelValues(operation, outcome).Inc()
	gatewayLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Monitor) SetCachedPayments(n int) {
	if m == nil {
		return
	}
	cachedPayments.Set(float64(n))
}

func (m *Monitor) PollerStarted() {
	if m == nil {
		return
	}
	activePollers.Inc()
}

func (m *Monitor) PollerStopped() {
	if m == nil {
		return
	}
	activePollers.Dec()
}
