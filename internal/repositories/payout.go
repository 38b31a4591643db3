package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"tikiti/internal/models"
)

// PayoutRepository handles organizer payout records
type PayoutRepository struct {
	db *sql.DB
}

// NewPayoutRepository creates a new payout repository
func NewPayoutRepository(db *sql.DB) *PayoutRepository {
	return &PayoutRepository{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const payoutColumns = `
	id, organizer_id, order_ids, COALESCE(batch_id, ''), amount, currency, status,
	ticket_ids, ticket_count, created_at, paid_at`

func scanPayout(row rowScanner) (*models.PayoutRecord, error) {
	p := &models.PayoutRecord{}
	err := row.Scan(
		&p.ID,
		&p.OrganizerID,
		pq.Array(&p.OrderIDs),
		&p.BatchID,
		&p.Amount,
		&p.Currency,
		&p.Status,
		pq.Array(&p.TicketIDs),
		&p.TicketCount,
		&p.CreatedAt,
		&p.PaidAt,
	)
	return p, err
}

func insertPayout(ctx context.Context, db execer, p *models.PayoutRecord) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO payouts (id, organizer_id, order_ids, batch_id, amount, currency, status, ticket_ids, ticket_count, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10)`,
		p.ID, p.OrganizerID, pq.Array(p.OrderIDs), p.BatchID, p.Amount, p.Currency, p.Status,
		pq.Array(p.TicketIDs), p.TicketCount, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record payout: %w", err)
	}
	return nil
}

// ListUnprocessedOrders returns completed orders whose payouts are not recorded, oldest first
func (r *PayoutRepository) ListUnprocessedOrders(ctx context.Context, limit int) ([]*models.Order, error) {
	orders := &OrderRepository{db: r.db}
	return orders.queryOrders(ctx, `
		WHERE o.payment_status = $1 AND o.payout_status IS NULL
		ORDER BY o.completed_at ASC
		LIMIT $2`, models.OrderCompleted, limit)
}

// ListPaidTickets returns the admitted or admissible tickets of the given orders
func (r *PayoutRepository) ListPaidTickets(ctx context.Context, orderIDs []string) ([]models.Ticket, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}
	return queryTickets(ctx, r.db, `
		WHERE t.order_id::text = ANY($1) AND t.payment_status IN ($2, $3)
		ORDER BY t.order_id, t.id`, pq.Array(orderIDs), models.TicketActive, models.TicketUsed)
}

// RecordBatch marks the orders processed and stores their payout records in one transaction.
// Returns models.ErrPayoutProcessed if any order was claimed by a concurrent run.
func (r *PayoutRepository) RecordBatch(ctx context.Context, orderIDs []string, records []models.PayoutRecord, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders SET payout_status = $2, payout_processed_at = $3, updated_at = $3
		WHERE id::text = ANY($1) AND payment_status = $4 AND payout_status IS NULL`,
		pq.Array(orderIDs), models.PayoutStatusProcessed, at, models.OrderCompleted)
	if err != nil {
		return fmt.Errorf("failed to mark orders processed: %w", err)
	}
	if n, _ := res.RowsAffected(); int(n) != len(orderIDs) {
		return models.ErrPayoutProcessed
	}

	for i := range records {
		if err := insertPayout(ctx, tx, &records[i]); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit payout batch: %w", err)
	}
	return nil
}

// ListByOrder returns the payout records that include an order
func (r *PayoutRepository) ListByOrder(ctx context.Context, orderID string) ([]models.PayoutRecord, error) {
	return r.query(ctx, `WHERE $1 = ANY(order_ids) ORDER BY created_at, id`, orderID)
}

// List returns payout records, newest first, optionally for one organizer
func (r *PayoutRepository) List(ctx context.Context, organizerID string, limit int) ([]models.PayoutRecord, error) {
	if organizerID == "" {
		return r.query(ctx, `ORDER BY created_at DESC, id LIMIT $1`, limit)
	}
	return r.query(ctx, `WHERE organizer_id = $1 ORDER BY created_at DESC, id LIMIT $2`, organizerID, limit)
}

// GetByID retrieves a payout record by ID
func (r *PayoutRepository) GetByID(ctx context.Context, id string) (*models.PayoutRecord, error) {
	p, err := scanPayout(r.db.QueryRowContext(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrPayoutNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payout: %w", err)
	}
	return p, nil
}

// MarkPaid records that a pending payout was disbursed
func (r *PayoutRepository) MarkPaid(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payouts SET status = $2, paid_at = $3 WHERE id = $1 AND status = $4`,
		id, models.PayoutPaid, at, models.PayoutPending)
	if err != nil {
		return fmt.Errorf("failed to mark payout paid: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return models.ErrPayoutAlreadyPaid
}

func (r *PayoutRepository) query(ctx context.Context, clause string, args ...any) ([]models.PayoutRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+payoutColumns+` FROM payouts `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payouts: %w", err)
	}
	defer rows.Close()

	var records []models.PayoutRecord
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payout: %w", err)
		}
		records = append(records, *p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payouts: %w", err)
	}
	return records, nil
}
