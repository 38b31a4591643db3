package models

import (
	"fmt"
	"strings"
	"time"
)

// OrderStatus represents the payment status of an order
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
	OrderFailed    OrderStatus = "failed"
)

// PayoutStatus tracks whether an order's organizer payouts have been recorded
type PayoutStatus string

const (
	PayoutStatusUnprocessed PayoutStatus = ""
	PayoutStatusProcessed   PayoutStatus = "processed"
)

// OrderLineItem is the cart line snapshot stored with an order
type OrderLineItem struct {
	EventID        string `json:"event_id"`
	EventTitle     string `json:"event_title"`
	OrganizerID    string `json:"organizer_id"`
	TicketTypeID   string `json:"ticket_type_id"`
	TicketTypeName string `json:"ticket_type_name"`
	UnitPrice      int64  `json:"unit_price"`
	Quantity       int    `json:"quantity"`
	IsVirtual      bool   `json:"is_virtual"`
}

// Order is the purchase summary created at checkout together with its tickets
type Order struct {
	ID                string          `json:"id" db:"id"`
	UserID            string          `json:"user_id" db:"user_id"`
	LineItems         []OrderLineItem `json:"line_items" db:"line_items"`
	Subtotal          int64           `json:"subtotal" db:"subtotal"`
	PlatformFee       int64           `json:"platform_fee" db:"platform_fee"`
	GrandTotal        int64           `json:"grand_total" db:"grand_total"`
	Currency          Currency        `json:"currency" db:"currency"`
	PaymentMethod     PaymentMethod   `json:"payment_method" db:"payment_method"`
	PhoneNumber       string          `json:"phone_number,omitempty" db:"phone_number"`
	BuyerEmail        string          `json:"buyer_email,omitempty" db:"buyer_email"`
	PaymentStatus     OrderStatus     `json:"payment_status" db:"payment_status"`
	Provider          Provider        `json:"provider,omitempty" db:"provider"`
	ProviderReference string          `json:"provider_reference,omitempty" db:"provider_reference"`
	ConfirmationID    string          `json:"confirmation_id,omitempty" db:"confirmation_id"`
	FailureReason     string          `json:"failure_reason,omitempty" db:"failure_reason"`
	PayoutStatus      PayoutStatus    `json:"payout_status,omitempty" db:"payout_status"`
	TicketIDs         []string        `json:"ticket_ids" db:"ticket_ids"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	PayoutProcessedAt *time.Time      `json:"payout_processed_at,omitempty" db:"payout_processed_at"`
}

// Validate checks the fee invariants of the order
func (o *Order) Validate() error {
	if o.UserID == "" {
		return NewValidationError("user_id", "buyer is required")
	}
	if !o.Currency.IsSupported() {
		return &ValidationError{Field: "currency", Message: "unsupported currency", Err: ErrUnsupportedCurrency}
	}
	if o.PlatformFee != PlatformFee(o.Subtotal) {
		return NewValidationError("platform_fee", "platform fee does not match subtotal")
	}
	if o.GrandTotal != o.Subtotal+o.PlatformFee {
		return NewValidationError("grand_total", "grand total must equal subtotal plus platform fee")
	}
	return nil
}

// IsPending returns true if the order awaits payment confirmation
func (o *Order) IsPending() bool {
	return o.PaymentStatus == OrderPending
}

// IsTerminal returns true once the payment outcome is decided
func (o *Order) IsTerminal() bool {
	return o.PaymentStatus == OrderCompleted || o.PaymentStatus == OrderFailed
}

// NeedsPayout returns true for completed orders whose payouts are not recorded yet
func (o *Order) NeedsPayout() bool {
	return o.PaymentStatus == OrderCompleted && o.PayoutStatus == PayoutStatusUnprocessed
}

// TicketCount returns the number of tickets on the order
func (o *Order) TicketCount() int {
	n := 0
	for _, li := range o.LineItems {
		n += li.Quantity
	}
	return n
}

// AccountReference is the short, human-readable reference shown to the buyer by the rail
func (o *Order) AccountReference() string {
	prefix := o.ID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return "TIKITI-" + strings.ToUpper(prefix)
}

// Description summarizes the order for provider checkout pages
func (o *Order) Description() string {
	return fmt.Sprintf("%d ticket(s)", o.TicketCount())
}

// GetStatusDisplayName returns a human-readable status name
func (o *Order) GetStatusDisplayName() string {
	switch o.PaymentStatus {
	case OrderPending:
		return "Awaiting payment"
	case OrderCompleted:
		return "Paid"
	case OrderFailed:
		return "Payment failed"
	default:
		return "Unknown"
	}
}

// OrderStatusView is the poll response returned to buyers
type OrderStatusView struct {
	OrderID       string      `json:"order_id"`
	PaymentStatus OrderStatus `json:"payment_status"`
	DisplayName   string      `json:"display_name"`
	FailureReason string      `json:"failure_reason,omitempty"`
	TicketIDs     []string    `json:"ticket_ids,omitempty"`
}

// StatusView builds the poll response for the order
func (o *Order) StatusView() OrderStatusView {
	view := OrderStatusView{
		OrderID:       o.ID,
		PaymentStatus: o.PaymentStatus,
		DisplayName:   o.GetStatusDisplayName(),
		FailureReason: o.FailureReason,
	}
	if o.PaymentStatus == OrderCompleted {
		view.TicketIDs = o.TicketIDs
	}
	return view
}
