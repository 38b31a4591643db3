package services

import (
	"context"
	"fmt"
	"log"

	"tikiti/internal/models"
)

// ComplimentaryAdapter settles zero-total orders without contacting any provider
type ComplimentaryAdapter struct{}

// NewComplimentaryAdapter creates the adapter for free tickets
func NewComplimentaryAdapter() *ComplimentaryAdapter {
	return &ComplimentaryAdapter{}
}

// Provider returns the provider name
func (a *ComplimentaryAdapter) Provider() models.Provider { return models.ProviderComplimentary }

// Flow returns the synchronous flow
func (a *ComplimentaryAdapter) Flow() models.Flow { return models.FlowSync }

// Initiate accepts the order immediately; only orders with nothing to pay qualify
func (a *ComplimentaryAdapter) Initiate(_ context.Context, order *models.Order, _ models.Identity) (*models.ProviderHandle, error) {
	if order.GrandTotal != 0 {
		return nil, fmt.Errorf("%w: free checkout for a %s %s order", models.ErrMethodNotOffered,
			order.Currency, models.FormatAmount(order.GrandTotal, order.Currency))
	}
	log.Printf("Complimentary checkout: issuing %d ticket(s) for order %s", order.TicketCount(), order.ID)
	return &models.ProviderHandle{
		Provider:  models.ProviderComplimentary,
		Flow:      models.FlowSync,
		Reference: "COMP-" + order.ID,
		Message:   "Your free tickets are confirmed",
	}, nil
}
