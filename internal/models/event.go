package models

import (
	"time"
)

// Event holds the catalog facts the payment flow depends on
type Event struct {
	ID                string    `json:"id" db:"id"`
	OrganizerID       string    `json:"organizer_id" db:"organizer_id"`
	Title             string    `json:"title" db:"title"`
	Venue             string    `json:"venue" db:"venue"`
	City              string    `json:"city" db:"city"`
	StartsAt          time.Time `json:"starts_at" db:"starts_at"`
	HasVirtualTickets bool      `json:"has_virtual_tickets" db:"has_virtual_tickets"`
	CheckedInCount    int       `json:"checked_in_count" db:"checked_in_count"`
}

// TicketType is a priced tier of tickets for an event
type TicketType struct {
	ID        string     `json:"id" db:"id"`
	EventID   string     `json:"event_id" db:"event_id"`
	Name      string     `json:"name" db:"name"`
	Price     int64      `json:"price" db:"price"` // in display units of Currency
	Currency  Currency   `json:"currency" db:"currency"`
	Quantity  int        `json:"quantity" db:"quantity"`
	Sold      int        `json:"sold" db:"sold"`
	SaleStart *time.Time `json:"sale_start,omitempty" db:"sale_start"`
	SaleEnd   *time.Time `json:"sale_end,omitempty" db:"sale_end"`
}

// Available returns the number of tickets left to sell
func (tt *TicketType) Available() int {
	available := tt.Quantity - tt.Sold
	if available < 0 {
		return 0
	}
	return available
}

// IsOnSale returns true if the sale window (when set) contains now
func (tt *TicketType) IsOnSale(now time.Time) bool {
	if tt.SaleStart != nil && now.Before(*tt.SaleStart) {
		return false
	}
	if tt.SaleEnd != nil && now.After(*tt.SaleEnd) {
		return false
	}
	return true
}

// CheckVirtualEligibility rejects virtual lines for events without virtual tickets
func CheckVirtualEligibility(event *Event, isVirtual bool) error {
	if isVirtual && !event.HasVirtualTickets {
		return ErrVirtualNotSupported
	}
	return nil
}

// CheckAvailability rejects a request for more tickets than remain
func CheckAvailability(tt *TicketType, requested int) error {
	if requested > tt.Available() {
		return &InventoryError{
			TicketTypeID: tt.ID,
			Requested:    requested,
			Remaining:    tt.Available(),
		}
	}
	return nil
}
