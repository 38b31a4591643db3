package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tikiti/internal/models"
)

// EventRepository reads the catalog facts needed to price and validate carts
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// GetEvent retrieves an event by ID
func (r *EventRepository) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	event := &models.Event{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, organizer_id, title, venue, city, starts_at, has_virtual_tickets, checked_in_count
		FROM events WHERE id = $1`, id).Scan(
		&event.ID,
		&event.OrganizerID,
		&event.Title,
		&event.Venue,
		&event.City,
		&event.StartsAt,
		&event.HasVirtualTickets,
		&event.CheckedInCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return event, nil
}

// GetTicketType retrieves a ticket type with its current sold count
func (r *EventRepository) GetTicketType(ctx context.Context, id string) (*models.TicketType, error) {
	tt := &models.TicketType{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, event_id, name, price, currency, quantity, sold, sale_start, sale_end
		FROM ticket_types WHERE id = $1`, id).Scan(
		&tt.ID,
		&tt.EventID,
		&tt.Name,
		&tt.Price,
		&tt.Currency,
		&tt.Quantity,
		&tt.Sold,
		&tt.SaleStart,
		&tt.SaleEnd,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrTicketTypeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket type: %w", err)
	}
	return tt, nil
}
