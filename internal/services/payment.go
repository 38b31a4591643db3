package services

import (
	"context"
	"fmt"
	"net/http"

	"tikiti/internal/models"
)

// PaymentAdapter starts a charge on one payment rail
type PaymentAdapter interface {
	Provider() models.Provider
	Flow() models.Flow
	Initiate(ctx context.Context, order *models.Order, buyer models.Identity) (*models.ProviderHandle, error)
}

// WebhookVerifier authenticates a provider callback and normalizes it into a Signal.
// An error wrapping models.ErrUnverifiableSignal means the callback must not change any state.
type WebhookVerifier interface {
	ParseWebhook(ctx context.Context, r *http.Request) (models.Signal, error)
}

// StatusQuerier asks the provider for the current state of a charge
type StatusQuerier interface {
	QueryStatus(ctx context.Context, order *models.Order) (models.Signal, error)
}

// Capturer completes the second phase of a two-phase rail
type Capturer interface {
	Capture(ctx context.Context, providerOrderID string) (models.Signal, error)
}

// Registry routes payment methods to the configured adapters
type Registry struct {
	adapters     map[models.Provider]PaymentAdapter
	cardProvider models.Provider
}

// NewRegistry creates a registry; card payments go to cardProvider
func NewRegistry(cardProvider models.Provider, adapters ...PaymentAdapter) *Registry {
	r := &Registry{
		adapters:     make(map[models.Provider]PaymentAdapter, len(adapters)),
		cardProvider: cardProvider,
	}
	for _, a := range adapters {
		r.adapters[a.Provider()] = a
	}
	return r
}

// ProviderFor returns the provider that serves a payment method
func (r *Registry) ProviderFor(m models.PaymentMethod) models.Provider {
	switch m {
	case models.MethodMpesa:
		return models.ProviderMpesa
	case models.MethodAirtel:
		return models.ProviderFlutterwave
	case models.MethodCard:
		return r.cardProvider
	case models.MethodPayPal:
		return models.ProviderPayPal
	case models.MethodFree:
		return models.ProviderComplimentary
	}
	return ""
}

// ForMethod returns the adapter for a payment method
func (r *Registry) ForMethod(m models.PaymentMethod) (PaymentAdapter, error) {
	p := r.ProviderFor(m)
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not configured", models.ErrMethodNotOffered, m)
	}
	return a, nil
}

// Get returns the adapter registered for a provider
func (r *Registry) Get(p models.Provider) (PaymentAdapter, bool) {
	a, ok := r.adapters[p]
	return a, ok
}

// Verifier returns the webhook verifier of a provider, if it has one
func (r *Registry) Verifier(p models.Provider) (WebhookVerifier, bool) {
	v, ok := r.adapters[p].(WebhookVerifier)
	return v, ok
}

// Querier returns the status querier of a provider, if it has one
func (r *Registry) Querier(p models.Provider) (StatusQuerier, bool) {
	q, ok := r.adapters[p].(StatusQuerier)
	return q, ok
}

// Capturer returns the capturer of a provider, if it has one
func (r *Registry) Capturer(p models.Provider) (Capturer, bool) {
	c, ok := r.adapters[p].(Capturer)
	return c, ok
}

// settled rejects a success signal that does not say which currency was collected,
// since the amount cannot be checked against the order without it
func settled(sig models.Signal) (models.Signal, error) {
	if sig.Outcome == models.OutcomeSuccess && !sig.Currency.IsSupported() {
		return models.Signal{}, fmt.Errorf("%w: %s reported success for %s without a supported currency (%q)",
			models.ErrUnverifiableSignal, sig.Provider, sig.Reference, sig.Currency)
	}
	return sig, nil
}
