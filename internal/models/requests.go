package models

import (
	"strings"
	"time"
)

// AddToCartRequest represents a request to add tickets to the cart
type AddToCartRequest struct {
	EventID      string `json:"event_id"`
	TicketTypeID string `json:"ticket_type_id"`
	Quantity     int    `json:"quantity"`
	IsVirtual    bool   `json:"is_virtual"`
}

// Validate validates the add-to-cart request
func (r *AddToCartRequest) Validate() error {
	if strings.TrimSpace(r.EventID) == "" {
		return NewValidationError("event_id", "event is required")
	}
	if strings.TrimSpace(r.TicketTypeID) == "" {
		return NewValidationError("ticket_type_id", "ticket type is required")
	}
	if r.Quantity < 1 {
		return NewValidationError("quantity", "quantity must be at least 1")
	}
	return nil
}

// UpdateCartLineRequest represents a quantity change on a cart line
type UpdateCartLineRequest struct {
	Quantity int `json:"quantity"`
}

// CheckoutRequest represents the buyer's checkout submission
type CheckoutRequest struct {
	PaymentMethod string `json:"payment_method"`
	PhoneNumber   string `json:"phone_number,omitempty"`
	Email         string `json:"email,omitempty"`
}

// CheckoutResult is returned once the order exists and the rail was contacted
type CheckoutResult struct {
	Order  *Order          `json:"order"`
	Handle *ProviderHandle `json:"payment"`
}

// CaptureRequest carries the approved provider order for a two-phase rail
type CaptureRequest struct {
	ProviderOrderID string `json:"provider_order_id"`
}

// CheckInRequest carries a scanned QR payload
type CheckInRequest struct {
	QRData string `json:"qr_data"`
}

// CheckInResult is the outcome shown to door staff
type CheckInResult struct {
	Success     bool       `json:"success"`
	Message     string     `json:"message"`
	TicketID    string     `json:"ticket_id,omitempty"`
	TicketType  string     `json:"ticket_type,omitempty"`
	HolderID    string     `json:"holder_id,omitempty"`
	CheckedInAt *time.Time `json:"checked_in_at,omitempty"`
}
