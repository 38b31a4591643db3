package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tikiti/internal/models"
)

// TicketRepository handles ticket lookups, check-in and holder queries
type TicketRepository struct {
	db *sql.DB
}

// NewTicketRepository creates a new ticket repository
func NewTicketRepository(db *sql.DB) *TicketRepository {
	return &TicketRepository{db: db}
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const ticketColumns = `
	t.id, t.order_id, t.user_id, t.event_id, t.organizer_id, t.ticket_type_id, t.ticket_type,
	t.unit_price, t.platform_fee_share, t.organizer_payout, t.currency, t.qr_payload, t.is_virtual,
	COALESCE(t.stream_token, ''), t.payment_status, COALESCE(t.receipt_number, ''), t.checked_in,
	t.checked_in_at, t.created_at`

func scanTicket(row rowScanner) (*models.Ticket, error) {
	t := &models.Ticket{}
	err := row.Scan(
		&t.ID,
		&t.OrderID,
		&t.UserID,
		&t.EventID,
		&t.OrganizerID,
		&t.TicketTypeID,
		&t.TicketType,
		&t.UnitPrice,
		&t.PlatformFeeShare,
		&t.OrganizerPayout,
		&t.Currency,
		&t.QRPayload,
		&t.IsVirtual,
		&t.StreamToken,
		&t.PaymentStatus,
		&t.ReceiptNumber,
		&t.CheckedIn,
		&t.CheckedInAt,
		&t.CreatedAt,
	)
	return t, err
}

func queryTickets(ctx context.Context, q queryer, where string, args ...any) ([]models.Ticket, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+ticketColumns+` FROM tickets t `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tickets: %w", err)
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		tickets = append(tickets, *t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tickets: %w", err)
	}
	return tickets, nil
}

// GetByID retrieves a ticket by ID
func (r *TicketRepository) GetByID(ctx context.Context, id string) (*models.Ticket, error) {
	t, err := scanTicket(r.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets t WHERE t.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	return t, nil
}

// CheckIn marks an active venue ticket as used and bumps the event's admission count
func (r *TicketRepository) CheckIn(ctx context.Context, ticketID, eventID string, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE tickets SET checked_in = TRUE, checked_in_at = $3, payment_status = $4
		WHERE id = $1 AND event_id = $2 AND checked_in = FALSE AND is_virtual = FALSE AND payment_status = $5`,
		ticketID, eventID, at, models.TicketUsed, models.TicketActive)
	if err != nil {
		return fmt.Errorf("failed to check in ticket: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// lost a race with another scanner
		return models.ErrAlreadyCheckedIn
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE events SET checked_in_count = checked_in_count + 1 WHERE id = $1`, eventID); err != nil {
		return fmt.Errorf("failed to update check-in count: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit check-in: %w", err)
	}
	return nil
}

// ListActiveHolders returns one contact per buyer holding an active ticket for the event
func (r *TicketRepository) ListActiveHolders(ctx context.Context, eventID string) ([]models.Contact, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT u.id, u.phone
		FROM tickets t
		JOIN users u ON u.id = t.user_id
		WHERE t.event_id = $1 AND t.payment_status = $2
			AND u.phone IS NOT NULL AND u.phone <> ''
		ORDER BY u.id`, eventID, models.TicketActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list ticket holders: %w", err)
	}
	defer rows.Close()

	var contacts []models.Contact
	for rows.Next() {
		var c models.Contact
		if err := rows.Scan(&c.UserID, &c.Phone); err != nil {
			return nil, fmt.Errorf("failed to scan ticket holder: %w", err)
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}
