package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"tikiti/internal/models"
)

// DecisionKind says whether a signal changes an order
type DecisionKind int

const (
	// DecisionNoop leaves the order untouched
	DecisionNoop DecisionKind = iota
	// DecisionApply resolves the pending order
	DecisionApply
)

// Decision is the result of evaluating a signal against an order
type Decision struct {
	Kind       DecisionKind
	Transition *models.OrderTransition
	Reason     string
}

// TransitionOptions carry the policy and generators the transition needs
type TransitionOptions struct {
	ImmediatePayouts bool
	NewID            IDGenerator
	Now              time.Time
}

// ComputeTransition decides what a verified signal does to an order.
// Only pending orders move; completed and failed are absorbing.
func ComputeTransition(order *models.Order, tickets []models.Ticket, sig models.Signal, opts TransitionOptions) (Decision, error) {
	if !order.IsPending() {
		return Decision{Kind: DecisionNoop, Reason: "order already " + string(order.PaymentStatus)}, nil
	}
	if !signalMatches(order, sig) {
		return Decision{}, fmt.Errorf("%w: %s reference %q does not belong to order %s",
			models.ErrReferenceMismatch, sig.Provider, sig.Reference, order.ID)
	}

	switch sig.Outcome {
	case models.OutcomeSuccess:
		if sig.Currency != "" && (sig.Currency != order.Currency || sig.Amount < order.GrandTotal) {
			return Decision{}, fmt.Errorf("%w: got %s %s, expected %s %s", models.ErrAmountMismatch,
				sig.Currency, models.FormatAmount(sig.Amount, sig.Currency),
				order.Currency, models.FormatAmount(order.GrandTotal, order.Currency))
		}
		tr := &models.OrderTransition{
			OrderID:        order.ID,
			To:             models.OrderCompleted,
			TicketStatus:   models.TicketActive,
			ConfirmationID: sig.ConfirmationID,
			At:             opts.Now,
		}
		if opts.ImmediatePayouts {
			tr.Payouts = models.AggregatePayouts(tickets, opts.NewID, opts.Now)
			tr.PayoutProcessed = true
		}
		return Decision{Kind: DecisionApply, Transition: tr}, nil

	case models.OutcomeFailure:
		reason := sig.Reason
		if reason == "" {
			reason = "payment failed"
		}
		return Decision{Kind: DecisionApply, Transition: &models.OrderTransition{
			OrderID:          order.ID,
			To:               models.OrderFailed,
			TicketStatus:     models.TicketCancelled,
			FailureReason:    reason,
			At:               opts.Now,
			ReleaseInventory: reservedUnits(order),
		}}, nil
	}

	return Decision{Kind: DecisionNoop, Reason: "payment still pending"}, nil
}

// signalMatches checks that the signal carries the order's own provider reference.
// System signals address the order by ID.
func signalMatches(order *models.Order, sig models.Signal) bool {
	if sig.Provider == models.ProviderSystem {
		return sig.Reference == order.ID
	}
	return sig.Provider == order.Provider && sig.Reference != "" && sig.Reference == order.ProviderReference
}

func reservedUnits(order *models.Order) map[string]int {
	units := make(map[string]int)
	for _, li := range order.LineItems {
		units[li.TicketTypeID] += li.Quantity
	}
	return units
}

// ReconcileResult reports what applying a signal did
type ReconcileResult struct {
	OrderID string             `json:"order_id"`
	Status  models.OrderStatus `json:"status"`
	Applied bool               `json:"applied"`
}

// Reconciler applies verified provider signals to orders exactly once
type Reconciler struct {
	orders           OrderStore
	publisher        EventPublisher
	metrics          *Metrics
	immediatePayouts bool
	newID            IDGenerator
	now              Clock
}

// NewReconciler creates a reconciler
func NewReconciler(orders OrderStore, publisher EventPublisher, metrics *Metrics, immediatePayouts bool, newID IDGenerator, now Clock) *Reconciler {
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		orders:           orders,
		publisher:        publisher,
		metrics:          metrics,
		immediatePayouts: immediatePayouts,
		newID:            newID,
		now:              now,
	}
}

// Apply resolves the order a signal refers to. Replays and signals for terminal orders are no-ops.
func (r *Reconciler) Apply(ctx context.Context, sig models.Signal) (*ReconcileResult, error) {
	order, err := r.lookup(ctx, sig)
	if err != nil {
		return nil, err
	}
	result := &ReconcileResult{OrderID: order.ID, Status: order.PaymentStatus}

	tickets, err := r.orders.GetTickets(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tickets for order %s: %w", order.ID, err)
	}

	now := r.now()
	decision, err := ComputeTransition(order, tickets, sig, TransitionOptions{
		ImmediatePayouts: r.immediatePayouts,
		NewID:            r.newID,
		Now:              now,
	})
	if err != nil {
		r.metrics.SignalRejected(sig.Provider, err)
		return result, err
	}
	if decision.Kind == DecisionNoop {
		log.Printf("Signal %s/%s for order %s ignored: %s", sig.Provider, sig.Reference, order.ID, decision.Reason)
		return result, nil
	}

	tr := decision.Transition
	if err := r.orders.ApplyTransition(ctx, tr); err != nil {
		if errors.Is(err, models.ErrAlreadyTerminal) {
			log.Printf("Order %s was resolved concurrently, %s signal ignored", order.ID, sig.Provider)
			if current, gerr := r.orders.GetByID(ctx, order.ID); gerr == nil {
				result.Status = current.PaymentStatus
			}
			return result, nil
		}
		return nil, fmt.Errorf("failed to apply transition to order %s: %w", order.ID, err)
	}

	result.Status = tr.To
	result.Applied = true
	r.metrics.TransitionApplied(sig.Provider, tr.To)
	if len(tr.Payouts) > 0 {
		r.metrics.PayoutsRecorded(len(tr.Payouts))
	}
	log.Printf("Order %s %s via %s (ref %s)", order.ID, tr.To, sig.Provider, sig.Reference)

	r.publish(ctx, transitionEvents(order, sig, tr))
	return result, nil
}

func (r *Reconciler) lookup(ctx context.Context, sig models.Signal) (*models.Order, error) {
	if sig.Reference == "" {
		return nil, fmt.Errorf("%w: signal has no reference", models.ErrUnverifiableSignal)
	}
	if sig.Provider == models.ProviderSystem {
		return r.orders.GetByID(ctx, sig.Reference)
	}
	return r.orders.GetByProviderReference(ctx, sig.Provider, sig.Reference)
}

// publish delivers events after commit; a failed publish is logged and never undoes the commit
func (r *Reconciler) publish(ctx context.Context, events []models.PaymentEvent) {
	if r.publisher == nil || len(events) == 0 {
		return
	}
	if err := r.publisher.Publish(ctx, events...); err != nil {
		log.Printf("Failed to publish %d payment event(s): %v", len(events), err)
	}
}

// transitionEvents builds the events announcing a committed transition
func transitionEvents(order *models.Order, sig models.Signal, tr *models.OrderTransition) []models.PaymentEvent {
	eventType := models.EventOrderCompleted
	if tr.To == models.OrderFailed {
		eventType = models.EventOrderFailed
	}
	events := []models.PaymentEvent{{
		Type:       eventType,
		OrderID:    order.ID,
		UserID:     order.UserID,
		Status:     string(tr.To),
		Amount:     order.GrandTotal,
		Currency:   order.Currency,
		Provider:   sig.Provider,
		Reference:  sig.Reference,
		OccurredAt: tr.At,
	}}
	if len(tr.Payouts) > 0 {
		events = append(events, payoutEvent(order.ID, tr.Payouts, tr.At))
	}
	return events
}

func payoutEvent(orderID string, records []models.PayoutRecord, at time.Time) models.PaymentEvent {
	ids := make([]string, 0, len(records))
	var amount int64
	var currency models.Currency
	for _, rec := range records {
		ids = append(ids, rec.ID)
		amount += rec.Amount
		currency = rec.Currency
	}
	return models.PaymentEvent{
		Type:       models.EventPayoutRecorded,
		OrderID:    orderID,
		Status:     string(models.PayoutPending),
		Amount:     amount,
		Currency:   currency,
		PayoutIDs:  ids,
		OccurredAt: at,
	}
}
