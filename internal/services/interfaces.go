package services

import (
	"context"
	"time"

	"tikiti/internal/models"
)

// Catalog reads the event and ticket-type facts a cart is priced from
type Catalog interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	GetTicketType(ctx context.Context, id string) (*models.TicketType, error)
}

// OrderStore persists orders, their tickets and their state transitions
type OrderStore interface {
	CreateWithTickets(ctx context.Context, order *models.Order, tickets []models.Ticket, payouts []models.PayoutRecord) error
	GetByID(ctx context.Context, id string) (*models.Order, error)
	GetByProviderReference(ctx context.Context, provider models.Provider, reference string) (*models.Order, error)
	SetProviderReference(ctx context.Context, orderID string, provider models.Provider, reference string) error
	GetTickets(ctx context.Context, orderID string) ([]models.Ticket, error)
	ApplyTransition(ctx context.Context, tr *models.OrderTransition) error
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*models.Order, error)
}

// PayoutStore persists organizer payout records
type PayoutStore interface {
	ListUnprocessedOrders(ctx context.Context, limit int) ([]*models.Order, error)
	ListPaidTickets(ctx context.Context, orderIDs []string) ([]models.Ticket, error)
	RecordBatch(ctx context.Context, orderIDs []string, records []models.PayoutRecord, at time.Time) error
	ListByOrder(ctx context.Context, orderID string) ([]models.PayoutRecord, error)
	List(ctx context.Context, organizerID string, limit int) ([]models.PayoutRecord, error)
	GetByID(ctx context.Context, id string) (*models.PayoutRecord, error)
	MarkPaid(ctx context.Context, id string, at time.Time) error
}

// TicketStore covers the ticket operations used at the door and for broadcasts
type TicketStore interface {
	GetByID(ctx context.Context, id string) (*models.Ticket, error)
	CheckIn(ctx context.Context, ticketID, eventID string, at time.Time) error
	ListActiveHolders(ctx context.Context, eventID string) ([]models.Contact, error)
}

// BroadcastStore keeps the log of sent emergency broadcasts
type BroadcastStore interface {
	Create(ctx context.Context, b *models.Broadcast) error
	ListByEvent(ctx context.Context, eventID string) ([]models.Broadcast, error)
}

// EventPublisher delivers payment lifecycle events after they are committed
type EventPublisher interface {
	Publish(ctx context.Context, events ...models.PaymentEvent) error
}

// SMSSender delivers one message to a batch of recipients and reports how many failed
type SMSSender interface {
	Send(ctx context.Context, recipients []string, message string) (failed int, err error)
}

// IDGenerator returns a new unique identifier
type IDGenerator func() string

// Clock returns the current time
type Clock func() time.Time
