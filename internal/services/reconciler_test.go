package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tikiti/internal/models"
)

var testNow = time.Date(2026, 3, 14, 18, 30, 0, 0, time.UTC)

// pendingOrder materializes a two-organizer KES order and stores it as awaiting M-Pesa
func pendingOrder(t *testing.T, store *fakeOrderStore, reference string) (*models.Order, []models.Ticket) {
	t.Helper()
	catalog := newFakeCatalog()
	testEvent(catalog, "evt-1", "org-a", "tt-1", 1000, models.CurrencyKES, 50)
	testEvent(catalog, "evt-2", "org-b", "tt-2", 250, models.CurrencyKES, 50)
	cart := testCart(catalog,
		models.AddToCartRequest{EventID: "evt-1", TicketTypeID: "tt-1", Quantity: 2},
		models.AddToCartRequest{EventID: "evt-2", TicketTypeID: "tt-2", Quantity: 1},
	)

	order, tickets, err := Materialize(cart, models.Identity{UserID: "buyer-1"}, models.MethodMpesa,
		"254712345678", "", sequentialIDs("id-"+reference), testNow.Add(-10*time.Minute))
	require.NoError(t, err)
	order.Provider = models.ProviderMpesa
	order.ProviderReference = reference
	require.NoError(t, store.CreateWithTickets(context.Background(), order, tickets, nil))
	return order, tickets
}

func TestComputeTransition(t *testing.T) {
	store := newFakeOrderStore()
	order, tickets := pendingOrder(t, store, "ws_CO_1")
	opts := TransitionOptions{ImmediatePayouts: true, NewID: sequentialIDs("payout"), Now: testNow}

	success := models.Signal{Provider: models.ProviderMpesa, Reference: "ws_CO_1", Outcome: models.OutcomeSuccess, ConfirmationID: "QK12ABC"}

	t.Run("success completes and records payouts", func(t *testing.T) {
		d, err := ComputeTransition(order, tickets, success, opts)
		require.NoError(t, err)
		require.Equal(t, DecisionApply, d.Kind)
		assert.Equal(t, models.OrderCompleted, d.Transition.To)
		assert.Equal(t, models.TicketActive, d.Transition.TicketStatus)
		assert.Equal(t, "QK12ABC", d.Transition.ConfirmationID)
		assert.True(t, d.Transition.PayoutProcessed)
		require.Len(t, d.Transition.Payouts, 2)
		assert.Equal(t, models.SumOrganizerPayouts(tickets), models.SumPayouts(d.Transition.Payouts))
	})

	t.Run("success in batch mode leaves payouts for later", func(t *testing.T) {
		d, err := ComputeTransition(order, tickets, success, TransitionOptions{Now: testNow})
		require.NoError(t, err)
		assert.Empty(t, d.Transition.Payouts)
		assert.False(t, d.Transition.PayoutProcessed)
	})

	t.Run("failure cancels and releases inventory", func(t *testing.T) {
		sig := models.Signal{Provider: models.ProviderMpesa, Reference: "ws_CO_1", Outcome: models.OutcomeFailure}
		d, err := ComputeTransition(order, tickets, sig, opts)
		require.NoError(t, err)
		assert.Equal(t, models.OrderFailed, d.Transition.To)
		assert.Equal(t, models.TicketCancelled, d.Transition.TicketStatus)
		assert.Equal(t, "payment failed", d.Transition.FailureReason)
		assert.Equal(t, map[string]int{"tt-1": 2, "tt-2": 1}, d.Transition.ReleaseInventory)
		assert.Empty(t, d.Transition.Payouts)
	})

	t.Run("pending signal is a no-op", func(t *testing.T) {
		sig := models.Signal{Provider: models.ProviderMpesa, Reference: "ws_CO_1", Outcome: models.OutcomePending}
		d, err := ComputeTransition(order, tickets, sig, opts)
		require.NoError(t, err)
		assert.Equal(t, DecisionNoop, d.Kind)
	})

	t.Run("system signal addresses the order by id", func(t *testing.T) {
		sig := models.Signal{Provider: models.ProviderSystem, Reference: order.ID, Outcome: models.OutcomeFailure, Reason: "payment window expired"}
		d, err := ComputeTransition(order, tickets, sig, opts)
		require.NoError(t, err)
		assert.Equal(t, "payment window expired", d.Transition.FailureReason)
	})

	t.Run("terminal orders absorb every signal", func(t *testing.T) {
		for _, status := range []models.OrderStatus{models.OrderCompleted, models.OrderFailed} {
			done := *order
			done.PaymentStatus = status
			for _, outcome := range []models.SignalOutcome{models.OutcomeSuccess, models.OutcomeFailure} {
				sig := success
				sig.Outcome = outcome
				d, err := ComputeTransition(&done, tickets, sig, opts)
				require.NoError(t, err)
				assert.Equal(t, DecisionNoop, d.Kind, "%s order, %s signal", status, outcome)
			}
		}
	})

	rejections := []struct {
		name    string
		sig     models.Signal
		wantErr error
	}{
		{
			name:    "other provider",
			sig:     models.Signal{Provider: models.ProviderFlutterwave, Reference: "ws_CO_1", Outcome: models.OutcomeSuccess},
			wantErr: models.ErrReferenceMismatch,
		},
		{
			name:    "other reference",
			sig:     models.Signal{Provider: models.ProviderMpesa, Reference: "ws_CO_2", Outcome: models.OutcomeSuccess},
			wantErr: models.ErrReferenceMismatch,
		},
		{
			name:    "system signal for another order",
			sig:     models.Signal{Provider: models.ProviderSystem, Reference: "someone-else", Outcome: models.OutcomeFailure},
			wantErr: models.ErrReferenceMismatch,
		},
		{
			name:    "short payment",
			sig:     models.Signal{Provider: models.ProviderMpesa, Reference: "ws_CO_1", Outcome: models.OutcomeSuccess, Amount: order.GrandTotal - 1, Currency: models.CurrencyKES},
			wantErr: models.ErrAmountMismatch,
		},
		{
			name:    "wrong currency",
			sig:     models.Signal{Provider: models.ProviderMpesa, Reference: "ws_CO_1", Outcome: models.OutcomeSuccess, Amount: order.GrandTotal, Currency: models.CurrencyUSD},
			wantErr: models.ErrAmountMismatch,
		},
	}
	for _, tt := range rejections {
		t.Run("rejects "+tt.name, func(t *testing.T) {
			_, err := ComputeTransition(order, tickets, tt.sig, opts)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("exact reported amount is accepted", func(t *testing.T) {
		sig := success
		sig.Amount = order.GrandTotal
		sig.Currency = models.CurrencyKES
		d, err := ComputeTransition(order, tickets, sig, opts)
		require.NoError(t, err)
		assert.Equal(t, DecisionApply, d.Kind)
	})
}

func newTestReconciler(store *fakeOrderStore, pub EventPublisher, immediate bool) *Reconciler {
	return NewReconciler(store, pub, NewMetrics(), immediate, sequentialIDs("payout"), fixedClock(testNow))
}

func TestReconciler_Apply(t *testing.T) {
	ctx := context.Background()

	t.Run("success is applied exactly once", func(t *testing.T) {
		store := newFakeOrderStore()
		order, _ := pendingOrder(t, store, "ws_CO_10")
		pub := &recordingPublisher{}
		r := newTestReconciler(store, pub, true)
		sig := models.Signal{Provider: models.ProviderMpesa, Reference: "ws_CO_10", Outcome: models.OutcomeSuccess, ConfirmationID: "QK99"}

		res, err := r.Apply(ctx, sig)
		require.NoError(t, err)
		assert.True(t, res.Applied)
		assert.Equal(t, models.OrderCompleted, res.Status)

		replay, err := r.Apply(ctx, sig)
		require.NoError(t, err)
		assert.False(t, replay.Applied)
		assert.Equal(t, models.OrderCompleted, replay.Status)

		stored, err := store.GetByID(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, "QK99", stored.ConfirmationID)
		assert.Equal(t, models.PayoutStatusProcessed, stored.PayoutStatus)
		assert.Equal(t, 1, store.applied)
		assert.Len(t, store.payouts, 2)

		require.Len(t, pub.ofType(models.EventOrderCompleted), 1)
		require.Len(t, pub.ofType(models.EventPayoutRecorded), 1)
		assert.Equal(t, order.ID, pub.ofType(models.EventOrderCompleted)[0].OrderID)
	})

	t.Run("failure after success is ignored", func(t *testing.T) {
		store := newFakeOrderStore()
		order, _ := pendingOrder(t, store, "ws_CO_11")
		r := newTestReconciler(store, nil, false)

		_, err := r.Apply(ctx, models.Signal{Provider: models.ProviderMpesa, Reference: "ws_CO_11", Outcome: models.OutcomeSuccess})
		require.NoError(t, err)
		res, err := r.Apply(ctx, models.Signal{Provider: models.ProviderMpesa, Reference: "ws_CO_11", Outcome: models.OutcomeFailure})
		require.NoError(t, err)
		assert.False(t, res.Applied)

		tickets, err := store.GetTickets(ctx, order.ID)
		require.NoError(t, err)
		for _, tk := range tickets {
			assert.Equal(t, models.TicketActive, tk.PaymentStatus)
		}
	})

	t.Run("failure releases reserved inventory", func(t *testing.T) {
		store := newFakeOrderStore()
		pendingOrder(t, store, "ws_CO_12")
		require.Equal(t, 2, store.sold["tt-1"])
		r := newTestReconciler(store, nil, true)

		res, err := r.Apply(ctx, models.Signal{Provider: models.ProviderMpesa, Reference: "ws_CO_12", Outcome: models.OutcomeFailure, Reason: "Request cancelled by user"})
		require.NoError(t, err)
		assert.Equal(t, models.OrderFailed, res.Status)
		assert.Equal(t, 0, store.sold["tt-1"])
		assert.Equal(t, 0, store.sold["tt-2"])
		assert.Empty(t, store.payouts)
	})

	t.Run("unknown reference", func(t *testing.T) {
		r := newTestReconciler(newFakeOrderStore(), nil, true)
		_, err := r.Apply(ctx, models.Signal{Provider: models.ProviderMpesa, Reference: "ws_CO_404", Outcome: models.OutcomeSuccess})
		assert.ErrorIs(t, err, models.ErrOrderNotFound)
	})

	t.Run("signal without reference is unverifiable", func(t *testing.T) {
		r := newTestReconciler(newFakeOrderStore(), nil, true)
		_, err := r.Apply(ctx, models.Signal{Provider: models.ProviderMpesa, Outcome: models.OutcomeSuccess})
		assert.ErrorIs(t, err, models.ErrUnverifiableSignal)
	})

	t.Run("amount mismatch leaves the order pending", func(t *testing.T) {
		store := newFakeOrderStore()
		order, _ := pendingOrder(t, store, "ws_CO_13")
		r := newTestReconciler(store, nil, true)

		_, err := r.Apply(ctx, models.Signal{Provider: models.ProviderMpesa, Reference: "ws_CO_13", Outcome: models.OutcomeSuccess, Amount: 1, Currency: models.CurrencyKES})
		assert.ErrorIs(t, err, models.ErrAmountMismatch)
		stored, _ := store.GetByID(ctx, order.ID)
		assert.Equal(t, models.OrderPending, stored.PaymentStatus)
	})

	t.Run("concurrent success and failure resolve once", func(t *testing.T) {
		store := newFakeOrderStore()
		pendingOrder(t, store, "ws_CO_14")
		r := newTestReconciler(store, nil, true)

		var wg sync.WaitGroup
		applied := make(chan bool, 20)
		for i := 0; i < 20; i++ {
			outcome := models.OutcomeSuccess
			if i%2 == 1 {
				outcome = models.OutcomeFailure
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := r.Apply(ctx, models.Signal{Provider: models.ProviderMpesa, Reference: "ws_CO_14", Outcome: outcome})
				if assert.NoError(t, err) {
					applied <- res.Applied
				}
			}()
		}
		wg.Wait()
		close(applied)

		n := 0
		for a := range applied {
			if a {
				n++
			}
		}
		assert.Equal(t, 1, n)
		assert.Equal(t, 1, store.applied)
	})

	t.Run("publish failure does not undo the commit", func(t *testing.T) {
		store := newFakeOrderStore()
		order, _ := pendingOrder(t, store, "ws_CO_15")
		pub := &recordingPublisher{err: assert.AnError}
		r := newTestReconciler(store, pub, false)

		res, err := r.Apply(ctx, models.Signal{Provider: models.ProviderMpesa, Reference: "ws_CO_15", Outcome: models.OutcomeSuccess})
		require.NoError(t, err)
		assert.True(t, res.Applied)
		stored, _ := store.GetByID(ctx, order.ID)
		assert.Equal(t, models.OrderCompleted, stored.PaymentStatus)
	})
}
