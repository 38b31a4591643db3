package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"tikiti/internal/models"
)

// BroadcastRepository keeps a log of emergency broadcasts
type BroadcastRepository struct {
	db *sql.DB
}

// NewBroadcastRepository creates a new broadcast repository
func NewBroadcastRepository(db *sql.DB) *BroadcastRepository {
	return &BroadcastRepository{db: db}
}

// Create stores a sent broadcast
func (r *BroadcastRepository) Create(ctx context.Context, b *models.Broadcast) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO broadcasts (id, event_id, organizer_id, broadcast_type, message, recipient_count, failed_count, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		b.ID, b.EventID, b.OrganizerID, b.Type, b.Message, b.RecipientCount, b.FailedCount, b.SentAt)
	if err != nil {
		return fmt.Errorf("failed to record broadcast: %w", err)
	}
	return nil
}

// ListByEvent returns an event's broadcasts, newest first
func (r *BroadcastRepository) ListByEvent(ctx context.Context, eventID string) ([]models.Broadcast, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_id, organizer_id, broadcast_type, message, recipient_count, failed_count, sent_at
		FROM broadcasts WHERE event_id = $1 ORDER BY sent_at DESC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list broadcasts: %w", err)
	}
	defer rows.Close()

	var broadcasts []models.Broadcast
	for rows.Next() {
		var b models.Broadcast
		if err := rows.Scan(&b.ID, &b.EventID, &b.OrganizerID, &b.Type, &b.Message,
			&b.RecipientCount, &b.FailedCount, &b.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan broadcast: %w", err)
		}
		broadcasts = append(broadcasts, b)
	}
	return broadcasts, rows.Err()
}
