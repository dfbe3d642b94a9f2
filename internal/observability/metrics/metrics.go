package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
)

// Metrics exposes application-level instruments.
type Metrics struct {
	ordersCreated     *prometheus.CounterVec
	paymentsResolved  *prometheus.CounterVec
	dispenseOutcomes  *prometheus.CounterVec
	stockWrites       *prometheus.CounterVec
	dispenseDurations prometheus.Histogram
}

// New registers the instruments on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ordersCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vendo_orders_created_total",
			Help: "Orders created, labeled by payment method.",
		}, []string{"method"}),
		paymentsResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vendo_payments_resolved_total",
			Help: "Payment reconciliations, labeled by outcome and trigger source.",
		}, []string{"outcome", "source"}),
		dispenseOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vendo_dispense_outcomes_total",
			Help: "Dispense attempt outcomes: success, failure, timeout, phantom.",
		}, []string{"outcome"}),
		stockWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vendo_stock_writes_total",
			Help: "Stock ledger writes, labeled by change type.",
		}, []string{"change_type"}),
		dispenseDurations: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vendo_dispense_duration_seconds",
			Help:    "Device-reported dispense durations.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}
}

func NewDefault() *Metrics {
	return New(prometheus.DefaultRegisterer)
}

func (m *Metrics) IncOrderCreated(method string) {
	if m == nil {
		return
	}
	m.ordersCreated.WithLabelValues(method).Inc()
}

func (m *Metrics) IncPaymentResolved(outcome, source string) {
	if m == nil {
		return
	}
	m.paymentsResolved.WithLabelValues(outcome, source).Inc()
}

func (m *Metrics) IncDispenseOutcome(outcome string) {
	if m == nil {
		return
	}
	m.dispenseOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncStockWrite(changeType string) {
	if m == nil {
		return
	}
	m.stockWrites.WithLabelValues(changeType).Inc()
}

func (m *Metrics) ObserveDispenseDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.dispenseDurations.Observe(d.Seconds())
}

// Module provides the metrics instruments on the default registry.
var Module = fx.Module("metrics",
	fx.Provide(NewDefault),
)
