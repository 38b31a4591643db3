package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"tikiti/internal/models"
)

// statementLinkLifetime is how long a presigned statement link stays valid
const statementLinkLifetime = 15 * time.Minute

// PayoutService records what each organizer is owed for completed orders
type PayoutService struct {
	payouts    PayoutStore
	orders     OrderStore
	storage    StorageService
	publisher  EventPublisher
	metrics    *Metrics
	batchLimit int
	newID      IDGenerator
	now        Clock
}

// NewPayoutService creates a new payout service. storage may be nil, in which case
// batch runs write no statement.
func NewPayoutService(payouts PayoutStore, orders OrderStore, storage StorageService, publisher EventPublisher, metrics *Metrics, batchLimit int) *PayoutService {
	if batchLimit <= 0 {
		batchLimit = 100
	}
	return &PayoutService{
		payouts:    payouts,
		orders:     orders,
		storage:    storage,
		publisher:  publisher,
		metrics:    metrics,
		batchLimit: batchLimit,
		newID:      uuid.NewString,
		now:        time.Now,
	}
}

// TriggerForOrder records the payouts of one completed order. An order whose payouts were
// already recorded returns the existing records.
func (s *PayoutService) TriggerForOrder(ctx context.Context, orderID string) ([]models.PayoutRecord, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus != models.OrderCompleted {
		return nil, fmt.Errorf("%w: order %s is %s", models.ErrOrderNotCompleted, order.ID, order.PaymentStatus)
	}
	if order.PayoutStatus == models.PayoutStatusProcessed {
		return s.payouts.ListByOrder(ctx, order.ID)
	}

	tickets, err := s.payouts.ListPaidTickets(ctx, []string{order.ID})
	if err != nil {
		return nil, err
	}
	now := s.now()
	records := models.AggregatePayouts(tickets, s.newID, now)

	if err := s.payouts.RecordBatch(ctx, []string{order.ID}, records, now); err != nil {
		if errors.Is(err, models.ErrPayoutProcessed) {
			return s.payouts.ListByOrder(ctx, order.ID)
		}
		return nil, err
	}

	log.Printf("Recorded %d payout(s) for order %s", len(records), order.ID)
	s.metrics.PayoutsRecorded(len(records))
	s.publish(ctx, payoutEvent(order.ID, records, now))
	return records, nil
}

// RunBatch aggregates payouts for up to batchLimit unprocessed completed orders in one
// transaction, then stores a statement of the batch
func (s *PayoutService) RunBatch(ctx context.Context) (*models.PayoutBatch, error) {
	now := s.now()
	batch := &models.PayoutBatch{ID: s.newID(), StartedAt: now}

	orders, err := s.payouts.ListUnprocessedOrders(ctx, s.batchLimit)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		log.Println("Payout batch: no unprocessed orders")
		return batch, nil
	}

	orderIDs := make([]string, 0, len(orders))
	for _, o := range orders {
		orderIDs = append(orderIDs, o.ID)
	}
	tickets, err := s.payouts.ListPaidTickets(ctx, orderIDs)
	if err != nil {
		return nil, err
	}

	records := models.AggregatePayouts(tickets, s.newID, now)
	for i := range records {
		records[i].BatchID = batch.ID
	}
	if err := s.payouts.RecordBatch(ctx, orderIDs, records, now); err != nil {
		return nil, fmt.Errorf("payout batch %s: %w", batch.ID, err)
	}
	batch.OrdersPaid = len(orderIDs)
	batch.Records = records

	log.Printf("Payout batch %s: %d order(s), %d record(s)", batch.ID, len(orderIDs), len(records))
	s.metrics.PayoutsRecorded(len(records))

	if url, err := s.writeStatement(ctx, batch.ID, records, now); err != nil {
		log.Printf("Payout batch %s: statement upload failed: %v", batch.ID, err)
	} else {
		batch.StatementURL = url
	}

	events := make([]models.PaymentEvent, 0, len(records))
	for _, rec := range records {
		events = append(events, models.PaymentEvent{
			Type:       models.EventPayoutRecorded,
			Status:     string(rec.Status),
			Amount:     rec.Amount,
			Currency:   rec.Currency,
			PayoutIDs:  []string{rec.ID},
			OccurredAt: now,
		})
	}
	s.publish(ctx, events...)
	return batch, nil
}

func (s *PayoutService) writeStatement(ctx context.Context, batchID string, records []models.PayoutRecord, at time.Time) (string, error) {
	if s.storage == nil {
		return "", nil
	}
	data, err := RenderStatement(batchID, records, at)
	if err != nil {
		return "", err
	}
	return s.storage.Upload(ctx, statementKey(batchID), bytes.NewReader(data), "text/csv", int64(len(data)))
}

// StatementURL returns a download link for a batch statement
func (s *PayoutService) StatementURL(ctx context.Context, batchID string) (string, error) {
	if s.storage == nil {
		return "", models.ErrStatementNotFound
	}
	key := statementKey(batchID)
	ok, err := s.storage.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", models.ErrStatementNotFound
	}
	return s.storage.DownloadURL(ctx, key, statementLinkLifetime)
}

// MarkPaid records that a payout was disbursed. Only pending payouts can be marked paid.
func (s *PayoutService) MarkPaid(ctx context.Context, id string) (*models.PayoutRecord, error) {
	rec, err := s.payouts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.CanBeMarkedPaid() {
		return nil, models.ErrPayoutAlreadyPaid
	}
	now := s.now()
	if err := s.payouts.MarkPaid(ctx, id, now); err != nil {
		return nil, err
	}
	rec.Status = models.PayoutPaid
	rec.PaidAt = &now
	return rec, nil
}

// List returns the most recent payouts, optionally for one organizer
func (s *PayoutService) List(ctx context.Context, organizerID string, limit int) ([]models.PayoutRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.payouts.List(ctx, organizerID, limit)
}

func (s *PayoutService) publish(ctx context.Context, events ...models.PaymentEvent) {
	if s.publisher == nil || len(events) == 0 {
		return
	}
	if err := s.publisher.Publish(ctx, events...); err != nil {
		log.Printf("Failed to publish %d payout event(s): %v", len(events), err)
	}
}
