package services

import (
	"context"
	"fmt"
	"time"

	"tikiti/internal/models"
)

// Poller waits for an order to leave the pending state. It only reads; it never resolves an order.
type Poller struct {
	orders      OrderStore
	interval    time.Duration
	maxAttempts int
}

// NewPoller creates a poller that checks every interval, at most maxAttempts times
func NewPoller(orders OrderStore, interval time.Duration, maxAttempts int) *Poller {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 20
	}
	return &Poller{orders: orders, interval: interval, maxAttempts: maxAttempts}
}

// Status returns the current payment status of an order owned by userID
func (p *Poller) Status(ctx context.Context, orderID, userID string) (*models.OrderStatusView, error) {
	order, err := p.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if userID != "" && order.UserID != userID {
		return nil, models.ErrOrderNotFound
	}
	view := order.StatusView()
	return &view, nil
}

// Wait polls until the order is terminal. It returns ErrPollTimeout once the attempts are used up.
func (p *Poller) Wait(ctx context.Context, orderID, userID string) (*models.OrderStatusView, error) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		view, err := p.Status(ctx, orderID, userID)
		if err != nil {
			return nil, err
		}
		if view.PaymentStatus != models.OrderPending {
			return view, nil
		}
		if attempt >= p.maxAttempts {
			return view, fmt.Errorf("%w: order %s still pending after %d checks", models.ErrPollTimeout, orderID, attempt)
		}

		select {
		case <-ctx.Done():
			return view, ctx.Err()
		case <-ticker.C:
		}
	}
}
