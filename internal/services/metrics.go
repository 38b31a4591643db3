package services

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"tikiti/internal/models"
)

// Metrics counts payment reconciliation activity. A nil *Metrics records nothing.
type Metrics struct {
	WebhooksReceived     *prometheus.CounterVec
	TransitionsApplied   *prometheus.CounterVec
	SignalsRejected      *prometheus.CounterVec
	PayoutRecordsWritten prometheus.Counter
	CheckoutsStarted     *prometheus.CounterVec
}

// NewMetrics creates the metric set
func NewMetrics() *Metrics {
	return &Metrics{
		WebhooksReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tikiti",
			Subsystem: "payments",
			Name:      "webhooks_received_total",
			Help:      "Provider callbacks received",
		}, []string{"provider"}),
		TransitionsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tikiti",
			Subsystem: "payments",
			Name:      "transitions_applied_total",
			Help:      "Order state transitions committed",
		}, []string{"provider", "status"}),
		SignalsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tikiti",
			Subsystem: "payments",
			Name:      "signals_rejected_total",
			Help:      "Provider signals that were unverifiable or did not match an order",
		}, []string{"provider", "reason"}),
		PayoutRecordsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tikiti",
			Subsystem: "payouts",
			Name:      "records_written_total",
			Help:      "Organizer payout records written",
		}),
		CheckoutsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tikiti",
			Subsystem: "payments",
			Name:      "checkouts_started_total",
			Help:      "Checkouts that created an order",
		}, []string{"provider"}),
	}
}

// Register adds all metrics to a registerer
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.WebhooksReceived,
		m.TransitionsApplied,
		m.SignalsRejected,
		m.PayoutRecordsWritten,
		m.CheckoutsStarted,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// WebhookReceived counts an inbound provider callback
func (m *Metrics) WebhookReceived(p models.Provider) {
	if m == nil {
		return
	}
	m.WebhooksReceived.WithLabelValues(string(p)).Inc()
}

// TransitionApplied counts a committed order transition
func (m *Metrics) TransitionApplied(p models.Provider, to models.OrderStatus) {
	if m == nil {
		return
	}
	m.TransitionsApplied.WithLabelValues(string(p), string(to)).Inc()
}

// SignalRejected counts a signal that left state unchanged because it could not be trusted or matched
func (m *Metrics) SignalRejected(p models.Provider, err error) {
	if m == nil {
		return
	}
	m.SignalsRejected.WithLabelValues(string(p), rejectionReason(err)).Inc()
}

// PayoutsRecorded counts written payout records
func (m *Metrics) PayoutsRecorded(n int) {
	if m == nil {
		return
	}
	m.PayoutRecordsWritten.Add(float64(n))
}

// CheckoutStarted counts an order created at checkout
func (m *Metrics) CheckoutStarted(p models.Provider) {
	if m == nil {
		return
	}
	m.CheckoutsStarted.WithLabelValues(string(p)).Inc()
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, models.ErrUnverifiableSignal):
		return "unverifiable"
	case errors.Is(err, models.ErrReferenceMismatch):
		return "reference_mismatch"
	case errors.Is(err, models.ErrAmountMismatch):
		return "amount_mismatch"
	case errors.Is(err, models.ErrOrderNotFound):
		return "unknown_order"
	default:
		return "other"
	}
}
