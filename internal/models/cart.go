package models

import (
	"fmt"
)

// CartLine is one ticket-type selection in a buyer's cart.
// UnitPrice is copied from the ticket type when the line is created and never changed by the cart.
type CartLine struct {
	CartItemID     string   `json:"cart_item_id"`
	EventID        string   `json:"event_id"`
	EventTitle     string   `json:"event_title"`
	OrganizerID    string   `json:"organizer_id"`
	TicketTypeID   string   `json:"ticket_type_id"`
	TicketTypeName string   `json:"ticket_type_name"`
	UnitPrice      int64    `json:"unit_price"`
	Currency       Currency `json:"currency"`
	Quantity       int      `json:"quantity"`
	IsVirtual      bool     `json:"is_virtual"`
}

// LineTotal returns unit price times quantity
func (l CartLine) LineTotal() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

// Cart is an immutable set of cart lines; every mutation returns a new Cart
type Cart struct {
	Lines []CartLine `json:"lines"`
}

// CartTotals are the figures derived from a cart
type CartTotals struct {
	Currency       Currency        `json:"currency,omitempty"`
	ItemCount      int             `json:"item_count"`
	Subtotal       int64           `json:"subtotal"`
	PlatformFee    int64           `json:"platform_fee"`
	GrandTotal     int64           `json:"grand_total"`
	PaymentMethods []PaymentMethod `json:"payment_methods"`
}

// CartItemID derives the stable line identifier for a merge key
func CartItemID(eventID, ticketTypeID string, isVirtual bool) string {
	kind := "venue"
	if isVirtual {
		kind = "virtual"
	}
	return fmt.Sprintf("%s.%s.%s", eventID, ticketTypeID, kind)
}

// Add merges quantity units of a ticket type into the cart.
// Lines merge on {event, ticket type, virtual}; the merged quantity must still be available.
func (c Cart) Add(event *Event, tt *TicketType, quantity int, isVirtual bool) (Cart, error) {
	if quantity < 1 {
		return c, NewValidationError("quantity", "quantity must be at least 1")
	}
	if tt.EventID != event.ID {
		return c, NewValidationError("ticket_type_id", "ticket type does not belong to event")
	}
	if err := CheckVirtualEligibility(event, isVirtual); err != nil {
		return c, err
	}
	if cur := c.Currency(); cur != "" && cur != tt.Currency {
		return c, &ValidationError{Field: "currency", Message: ErrCurrencyMismatch.Error(), Err: ErrCurrencyMismatch}
	}

	id := CartItemID(event.ID, tt.ID, isVirtual)
	lines := c.copyLines()
	for i := range lines {
		if lines[i].CartItemID != id {
			continue
		}
		if err := CheckAvailability(tt, lines[i].Quantity+quantity); err != nil {
			return c, err
		}
		lines[i].Quantity += quantity
		return Cart{Lines: lines}, nil
	}

	if err := CheckAvailability(tt, quantity); err != nil {
		return c, err
	}
	lines = append(lines, CartLine{
		CartItemID:     id,
		EventID:        event.ID,
		EventTitle:     event.Title,
		OrganizerID:    event.OrganizerID,
		TicketTypeID:   tt.ID,
		TicketTypeName: tt.Name,
		UnitPrice:      tt.Price,
		Currency:       tt.Currency,
		Quantity:       quantity,
		IsVirtual:      isVirtual,
	})
	return Cart{Lines: lines}, nil
}

// Remove drops a line; removing an unknown line leaves the cart unchanged
func (c Cart) Remove(cartItemID string) Cart {
	lines := make([]CartLine, 0, len(c.Lines))
	for _, l := range c.Lines {
		if l.CartItemID != cartItemID {
			lines = append(lines, l)
		}
	}
	return Cart{Lines: lines}
}

// SetQuantity replaces a line's quantity. A quantity of zero or less removes the line.
func (c Cart) SetQuantity(cartItemID string, qty int) (Cart, error) {
	idx := c.indexOf(cartItemID)
	if idx < 0 {
		return c, ErrCartLineNotFound
	}
	if qty <= 0 {
		return c.Remove(cartItemID), nil
	}
	lines := c.copyLines()
	lines[idx].Quantity = max(qty, 1)
	return Cart{Lines: lines}, nil
}

// Clear returns an empty cart
func (c Cart) Clear() Cart {
	return Cart{}
}

// Line returns the line with the given id
func (c Cart) Line(cartItemID string) (CartLine, bool) {
	if idx := c.indexOf(cartItemID); idx >= 0 {
		return c.Lines[idx], true
	}
	return CartLine{}, false
}

// IsEmpty reports whether the cart has no lines
func (c Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// Currency returns the cart currency, or "" for an empty cart
func (c Cart) Currency() Currency {
	if len(c.Lines) == 0 {
		return ""
	}
	return c.Lines[0].Currency
}

// Totals recomputes the derived figures. The platform fee here is informational;
// the per-ticket split computed at checkout is authoritative.
func (c Cart) Totals() CartTotals {
	totals := CartTotals{Currency: c.Currency()}
	for _, l := range c.Lines {
		totals.ItemCount += l.Quantity
		totals.Subtotal += l.LineTotal()
	}
	totals.PlatformFee = PlatformFee(totals.Subtotal)
	totals.GrandTotal = totals.Subtotal + totals.PlatformFee
	switch {
	case totals.ItemCount == 0:
		totals.PaymentMethods = []PaymentMethod{}
	case totals.GrandTotal == 0:
		totals.PaymentMethods = []PaymentMethod{MethodFree}
	default:
		totals.PaymentMethods = PaymentMethodsFor(totals.Currency)
	}
	return totals
}

func (c Cart) indexOf(cartItemID string) int {
	for i, l := range c.Lines {
		if l.CartItemID == cartItemID {
			return i
		}
	}
	return -1
}

func (c Cart) copyLines() []CartLine {
	lines := make([]CartLine, len(c.Lines))
	copy(lines, c.Lines)
	return lines
}
