package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"

	"tikiti/internal/models"
)

// OrderRepository handles order and ticket persistence
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `
	o.id, o.user_id, o.line_items, o.subtotal, o.platform_fee, o.grand_total, o.currency,
	o.payment_method, COALESCE(o.phone_number, ''), COALESCE(o.buyer_email, ''), o.payment_status,
	COALESCE(o.provider, ''), COALESCE(o.provider_reference, ''), COALESCE(o.confirmation_id, ''),
	COALESCE(o.failure_reason, ''), COALESCE(o.payout_status, ''),
	COALESCE(ARRAY(SELECT t.id::text FROM tickets t WHERE t.order_id = o.id ORDER BY t.created_at, t.id), '{}'),
	o.created_at, o.updated_at, o.completed_at, o.payout_processed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	order := &models.Order{}
	var lineItems []byte
	err := row.Scan(
		&order.ID,
		&order.UserID,
		&lineItems,
		&order.Subtotal,
		&order.PlatformFee,
		&order.GrandTotal,
		&order.Currency,
		&order.PaymentMethod,
		&order.PhoneNumber,
		&order.BuyerEmail,
		&order.PaymentStatus,
		&order.Provider,
		&order.ProviderReference,
		&order.ConfirmationID,
		&order.FailureReason,
		&order.PayoutStatus,
		pq.Array(&order.TicketIDs),
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.CompletedAt,
		&order.PayoutProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(lineItems, &order.LineItems); err != nil {
		return nil, fmt.Errorf("failed to decode line items of order %s: %w", order.ID, err)
	}
	return order, nil
}

// CreateWithTickets reserves inventory and stores an order with its tickets in one transaction.
// Orders settled synchronously pass their payout records to be written in the same unit.
// It fails with an *models.InventoryError when any ticket type cannot cover the order.
func (r *OrderRepository) CreateWithTickets(ctx context.Context, order *models.Order, tickets []models.Ticket, payouts []models.PayoutRecord) error {
	lineItems, err := json.Marshal(order.LineItems)
	if err != nil {
		return fmt.Errorf("failed to encode line items: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := reserveInventory(ctx, tx, order.LineItems); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, line_items, subtotal, platform_fee, grand_total, currency,
			payment_method, phone_number, buyer_email, payment_status, provider, provider_reference,
			created_at, updated_at, completed_at, confirmation_id, payout_status, payout_processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''), $11, NULLIF($12, ''), NULLIF($13, ''),
			$14, $14, $15, NULLIF($16, ''), NULLIF($17, ''), $18)`,
		order.ID, order.UserID, lineItems, order.Subtotal, order.PlatformFee, order.GrandTotal, order.Currency,
		order.PaymentMethod, order.PhoneNumber, order.BuyerEmail, order.PaymentStatus, order.Provider,
		order.ProviderReference, order.CreatedAt, order.CompletedAt, order.ConfirmationID, order.PayoutStatus,
		order.PayoutProcessedAt)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	for i := range tickets {
		t := &tickets[i]
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tickets (id, order_id, user_id, event_id, organizer_id, ticket_type_id, ticket_type,
				unit_price, platform_fee_share, organizer_payout, currency, qr_payload, is_virtual,
				stream_token, payment_status, receipt_number, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NULLIF($14, ''), $15, NULLIF($16, ''), $17)`,
			t.ID, t.OrderID, t.UserID, t.EventID, t.OrganizerID, t.TicketTypeID, t.TicketType,
			t.UnitPrice, t.PlatformFeeShare, t.OrganizerPayout, t.Currency, t.QRPayload, t.IsVirtual,
			t.StreamToken, t.PaymentStatus, t.ReceiptNumber, t.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to create ticket: %w", err)
		}
	}

	for i := range payouts {
		if err := insertPayout(ctx, tx, &payouts[i]); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit order creation: %w", err)
	}
	return nil
}

// reserveInventory increments sold counts, locking ticket types in a stable order
func reserveInventory(ctx context.Context, tx *sql.Tx, items []models.OrderLineItem) error {
	wanted := make(map[string]int)
	for _, li := range items {
		wanted[li.TicketTypeID] += li.Quantity
	}
	ids := make([]string, 0, len(wanted))
	for id := range wanted {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `
			UPDATE ticket_types SET sold = sold + $2
			WHERE id = $1 AND sold + $2 <= quantity`, id, wanted[id])
		if err != nil {
			return fmt.Errorf("failed to reserve tickets: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			continue
		}

		var remaining int
		err = tx.QueryRowContext(ctx, `SELECT quantity - sold FROM ticket_types WHERE id = $1`, id).Scan(&remaining)
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrTicketTypeNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check ticket availability: %w", err)
		}
		return &models.InventoryError{TicketTypeID: id, Requested: wanted[id], Remaining: max(remaining, 0)}
	}
	return nil
}

// GetByID retrieves an order with its ticket ids
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders o WHERE o.id = $1`, id)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// GetByProviderReference finds the order a provider signal refers to
func (r *OrderRepository) GetByProviderReference(ctx context.Context, provider models.Provider, reference string) (*models.Order, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders o WHERE o.provider = $1 AND o.provider_reference = $2`,
		provider, reference)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order by provider reference: %w", err)
	}
	return order, nil
}

// SetProviderReference binds a pending order to the rail's reference
func (r *OrderRepository) SetProviderReference(ctx context.Context, orderID string, provider models.Provider, reference string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders SET provider = $2, provider_reference = $3, updated_at = NOW()
		WHERE id = $1 AND payment_status = $4`,
		orderID, provider, reference, models.OrderPending)
	if err != nil {
		return fmt.Errorf("failed to set provider reference: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.terminalOrMissing(ctx, orderID)
	}
	return nil
}

// GetTickets returns the tickets of an order
func (r *OrderRepository) GetTickets(ctx context.Context, orderID string) ([]models.Ticket, error) {
	return queryTickets(ctx, r.db, `WHERE t.order_id = $1 ORDER BY t.created_at, t.id`, orderID)
}

// ApplyTransition resolves a pending order, its tickets, inventory and payouts atomically.
// Returns models.ErrAlreadyTerminal when the order was resolved by an earlier signal.
func (r *OrderRepository) ApplyTransition(ctx context.Context, tr *models.OrderTransition) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var completedAt, payoutAt *time.Time
	if tr.To == models.OrderCompleted {
		completedAt = &tr.At
	}
	payoutStatus := ""
	if tr.PayoutProcessed {
		payoutStatus = string(models.PayoutStatusProcessed)
		payoutAt = &tr.At
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = $2, confirmation_id = NULLIF($3, ''), failure_reason = NULLIF($4, ''),
			completed_at = $5, payout_status = NULLIF($6, ''), payout_processed_at = $7, updated_at = $8
		WHERE id = $1 AND payment_status = $9`,
		tr.OrderID, tr.To, tr.ConfirmationID, tr.FailureReason, completedAt, payoutStatus, payoutAt, tr.At,
		models.OrderPending)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.terminalOrMissing(ctx, tr.OrderID)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE tickets SET payment_status = $2, receipt_number = NULLIF($3, '')
		WHERE order_id = $1 AND payment_status = $4`,
		tr.OrderID, tr.TicketStatus, tr.ConfirmationID, models.TicketPending)
	if err != nil {
		return fmt.Errorf("failed to update tickets: %w", err)
	}

	for ticketTypeID, qty := range tr.ReleaseInventory {
		_, err = tx.ExecContext(ctx, `
			UPDATE ticket_types SET sold = GREATEST(sold - $2, 0) WHERE id = $1`, ticketTypeID, qty)
		if err != nil {
			return fmt.Errorf("failed to release inventory: %w", err)
		}
	}

	for i := range tr.Payouts {
		if err := insertPayout(ctx, tx, &tr.Payouts[i]); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit order transition: %w", err)
	}
	return nil
}

func (r *OrderRepository) terminalOrMissing(ctx context.Context, orderID string) error {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check order: %w", err)
	}
	if !exists {
		return models.ErrOrderNotFound
	}
	return models.ErrAlreadyTerminal
}

// ListStalePending returns pending orders created before the cutoff, oldest first
func (r *OrderRepository) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*models.Order, error) {
	return r.queryOrders(ctx, `
		WHERE o.payment_status = $1 AND o.created_at < $2
		ORDER BY o.created_at ASC
		LIMIT $3`, models.OrderPending, createdBefore, limit)
}

func (r *OrderRepository) queryOrders(ctx context.Context, where string, args ...any) ([]*models.Order, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders o `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}
	return orders, nil
}
