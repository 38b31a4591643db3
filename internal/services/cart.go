package services

import (
	"context"
	"time"

	"tikiti/internal/models"
)

// CartService prices cart changes against the live catalog
type CartService struct {
	catalog Catalog
	now     Clock
}

// NewCartService creates a cart service
func NewCartService(catalog Catalog) *CartService {
	return &CartService{catalog: catalog, now: time.Now}
}

// AddLine adds tickets to the cart, merging with an existing line for the same ticket type
func (s *CartService) AddLine(ctx context.Context, cart models.Cart, req models.AddToCartRequest) (models.Cart, error) {
	if err := req.Validate(); err != nil {
		return cart, err
	}
	event, err := s.catalog.GetEvent(ctx, req.EventID)
	if err != nil {
		return cart, err
	}
	tt, err := s.catalog.GetTicketType(ctx, req.TicketTypeID)
	if err != nil {
		return cart, err
	}
	if !tt.IsOnSale(s.now()) {
		return cart, models.NewValidationError("ticket_type_id", tt.Name+" is not on sale")
	}
	return cart.Add(event, tt, req.Quantity, req.IsVirtual)
}

// SetQuantity changes a line's quantity; increases are checked against remaining inventory
func (s *CartService) SetQuantity(ctx context.Context, cart models.Cart, cartItemID string, qty int) (models.Cart, error) {
	line, ok := cart.Line(cartItemID)
	if !ok {
		return cart, models.ErrCartLineNotFound
	}
	if qty > line.Quantity {
		tt, err := s.catalog.GetTicketType(ctx, line.TicketTypeID)
		if err != nil {
			return cart, err
		}
		if err := models.CheckAvailability(tt, qty); err != nil {
			return cart, err
		}
	}
	return cart.SetQuantity(cartItemID, qty)
}

// RemoveLine drops a line from the cart
func (s *CartService) RemoveLine(cart models.Cart, cartItemID string) (models.Cart, error) {
	if _, ok := cart.Line(cartItemID); !ok {
		return cart, models.ErrCartLineNotFound
	}
	return cart.Remove(cartItemID), nil
}
