package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Signal pipeline metrics
	signalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_relay_signals_total",
			Help: "Signals pulled from the feed, by outcome",
		},
		[]string{"outcome"},
	)

	ordersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_relay_orders_submitted_total",
			Help: "Orders accepted by the venue",
		},
		[]string{"symbol", "side"},
	)

	orderRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_relay_order_rejections_total",
			Help: "Venue rejections, by fallback ladder rung",
		},
		[]string{"rung"},
	)

	// Notification metrics
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_relay_notifications_total",
			Help: "Outbound notifications, by kind",
		},
		[]string{"kind"},
	)

	// Account metrics
	accountEquity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "signal_relay_account_equity",
			Help: "Current account equity",
		},
	)

	drawdownPct = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "signal_relay_drawdown_pct",
			Help: "Current drawdown percentage",
		},
		[]string{"window"},
	)

	breakerStopped = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "signal_relay_breaker_stopped",
			Help: "1 while the circuit breaker is in the Stopped state",
		},
	)

	// Error metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_relay_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type"},
	)
)

func init() {
	// Register metrics
	prometheus.MustRegister(signalsTotal)
	prometheus.MustRegister(ordersSubmitted)
	prometheus.MustRegister(orderRejections)
	prometheus.MustRegister(notificationsTotal)
	prometheus.MustRegister(accountEquity)
	prometheus.MustRegister(drawdownPct)
	prometheus.MustRegister(breakerStopped)
	prometheus.MustRegister(errorsTotal)
}

// MetricsHandler handles Prometheus metrics endpoint
type MetricsHandler struct{}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// ServeHTTP serves the Prometheus metrics endpoint
func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// RecordSignal records a processed signal by outcome (executed, skipped, failed)
func RecordSignal(outcome string) {
	signalsTotal.WithLabelValues(outcome).Inc()
}

// RecordOrderSubmitted records a venue-accepted order
func RecordOrderSubmitted(symbol, side string) {
	ordersSubmitted.WithLabelValues(symbol, side).Inc()
}

// RecordOrderRejection records a rejection at one ladder rung
func RecordOrderRejection(rung string) {
	orderRejections.WithLabelValues(rung).Inc()
}

// RecordNotification records an outbound notification (root, reply, dropped)
func RecordNotification(kind string) {
	notificationsTotal.WithLabelValues(kind).Inc()
}

// UpdateAccount updates the equity and drawdown gauges
func UpdateAccount(equity, dailyDD, overallDD float64) {
	accountEquity.Set(equity)
	drawdownPct.WithLabelValues("daily").Set(dailyDD)
	drawdownPct.WithLabelValues("overall").Set(overallDD)
}

// UpdateBreakerState reflects the circuit breaker state
func UpdateBreakerState(stopped bool) {
	if stopped {
		breakerStopped.Set(1)
	} else {
		breakerStopped.Set(0)
	}
}

// RecordError records an error metric
func RecordError(errorType string) {
	errorsTotal.WithLabelValues(errorType).Inc()
}
