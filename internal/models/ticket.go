package models

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// TicketStatus represents the status of a ticket
type TicketStatus string

const (
	TicketPending   TicketStatus = "pending"
	TicketActive    TicketStatus = "active"
	TicketCancelled TicketStatus = "cancelled"
	TicketUsed      TicketStatus = "used"
)

// Ticket is one admission (or stream access) purchased on an order
type Ticket struct {
	ID               string       `json:"id" db:"id"`
	OrderID          string       `json:"order_id" db:"order_id"`
	UserID           string       `json:"user_id" db:"user_id"`
	EventID          string       `json:"event_id" db:"event_id"`
	OrganizerID      string       `json:"organizer_id" db:"organizer_id"`
	TicketTypeID     string       `json:"ticket_type_id" db:"ticket_type_id"`
	TicketType       string       `json:"ticket_type" db:"ticket_type"`
	UnitPrice        int64        `json:"unit_price" db:"unit_price"`
	PlatformFeeShare int64        `json:"platform_fee_share" db:"platform_fee_share"`
	OrganizerPayout  int64        `json:"organizer_payout" db:"organizer_payout"`
	Currency         Currency     `json:"currency" db:"currency"`
	QRPayload        string       `json:"qr_payload" db:"qr_payload"`
	IsVirtual        bool         `json:"is_virtual" db:"is_virtual"`
	StreamToken      string       `json:"stream_token,omitempty" db:"stream_token"`
	PaymentStatus    TicketStatus `json:"payment_status" db:"payment_status"`
	ReceiptNumber    string       `json:"receipt_number,omitempty" db:"receipt_number"`
	CheckedIn        bool         `json:"checked_in" db:"checked_in"`
	CheckedInAt      *time.Time   `json:"checked_in_at,omitempty" db:"checked_in_at"`
	CreatedAt        time.Time    `json:"created_at" db:"created_at"`
}

// SplitFee computes the per-ticket platform share and organizer payout of a unit price.
// share + payout always equals unitPrice.
func SplitFee(unitPrice int64) (share, payout int64) {
	share = PlatformFee(unitPrice)
	return share, unitPrice - share
}

// IsActive returns true if the ticket is paid for and unused
func (t *Ticket) IsActive() bool {
	return t.PaymentStatus == TicketActive
}

// CanCheckIn reports why a ticket cannot be admitted, or nil if it can
func (t *Ticket) CanCheckIn() error {
	if t.CheckedIn {
		at := "earlier"
		if t.CheckedInAt != nil {
			at = t.CheckedInAt.Format("15:04:05")
		}
		return fmt.Errorf("%w at %s", ErrAlreadyCheckedIn, at)
	}
	if t.IsVirtual {
		return ErrVirtualTicketEntry
	}
	if !t.IsActive() {
		return fmt.Errorf("%w: ticket is %s", ErrTicketNotActive, t.PaymentStatus)
	}
	return nil
}

// QRPayload is the JSON document encoded in a ticket's QR code
type QRPayload struct {
	TicketID   string `json:"ticketId"`
	EventID    string `json:"eventId"`
	UserID     string `json:"userId"`
	TicketType string `json:"ticketType"`
	IsVirtual  bool   `json:"isVirtual"`
	OrderID    string `json:"orderId"`
	Checksum   string `json:"checksum"`
}

// QRChecksum binds a ticket to its event and holder
func QRChecksum(ticketID, eventID, userID string) string {
	return base64.StdEncoding.EncodeToString([]byte(ticketID + ":" + eventID + ":" + userID))
}

// EncodeQRPayload builds the QR document for a ticket
func EncodeQRPayload(t *Ticket) (string, error) {
	payload := QRPayload{
		TicketID:   t.ID,
		EventID:    t.EventID,
		UserID:     t.UserID,
		TicketType: t.TicketType,
		IsVirtual:  t.IsVirtual,
		OrderID:    t.OrderID,
		Checksum:   QRChecksum(t.ID, t.EventID, t.UserID),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR payload: %w", err)
	}
	return string(data), nil
}

// ValidateQRPayload parses a scanned QR document and checks its checksum
func ValidateQRPayload(raw string) (*QRPayload, error) {
	var payload QRPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, ErrInvalidQRCode
	}
	if payload.TicketID == "" || payload.EventID == "" || payload.UserID == "" || payload.Checksum == "" {
		return nil, ErrInvalidQRCode
	}
	if payload.Checksum != QRChecksum(payload.TicketID, payload.EventID, payload.UserID) {
		return nil, ErrInvalidQRCode
	}
	return &payload, nil
}
