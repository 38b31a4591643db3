package models

import (
	"time"
)

// OrderTransition is the complete set of writes that resolves a pending order.
// It is applied atomically and only while the order is still pending.
type OrderTransition struct {
	OrderID        string
	To             OrderStatus
	TicketStatus   TicketStatus
	ConfirmationID string
	FailureReason  string
	At             time.Time

	// Payouts are recorded in the same transaction when payouts are immediate
	Payouts         []PayoutRecord
	PayoutProcessed bool

	// ReleaseInventory returns reserved units per ticket type on failure
	ReleaseInventory map[string]int
}

// PaymentEventType names a lifecycle event published after a commit
type PaymentEventType string

const (
	EventOrderCompleted PaymentEventType = "order.completed"
	EventOrderFailed    PaymentEventType = "order.failed"
	EventPayoutRecorded PaymentEventType = "payout.recorded"
)

// PaymentEvent is the message published for downstream consumers (mail, analytics)
type PaymentEvent struct {
	Type       PaymentEventType `json:"type"`
	OrderID    string           `json:"order_id,omitempty"`
	UserID     string           `json:"user_id,omitempty"`
	Status     string           `json:"status"`
	Amount     int64            `json:"amount"`
	Currency   Currency         `json:"currency"`
	Provider   Provider         `json:"provider,omitempty"`
	Reference  string           `json:"reference,omitempty"`
	PayoutIDs  []string         `json:"payout_ids,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// Key returns the partition key for the event
func (e PaymentEvent) Key() string {
	if e.OrderID != "" {
		return e.OrderID
	}
	if len(e.PayoutIDs) > 0 {
		return e.PayoutIDs[0]
	}
	return string(e.Type)
}
