package services

import (
	"context"
	"errors"
	"log"
	"time"

	"tikiti/internal/models"
)

// Sweeper reconciles orders whose callbacks never arrived by asking the provider directly
type Sweeper struct {
	orders     OrderStore
	registry   *Registry
	reconciler *Reconciler
	grace      time.Duration
	expiry     time.Duration
	batchSize  int
	now        Clock
}

// SweepReport summarizes one sweep
type SweepReport struct {
	Checked  int
	Resolved int
	Expired  int
	Errors   int
}

// NewSweeper creates a sweeper. Orders younger than grace are left to their callbacks;
// orders older than expiry are failed once the provider confirms they are still unpaid.
func NewSweeper(orders OrderStore, registry *Registry, reconciler *Reconciler, grace, expiry time.Duration) *Sweeper {
	return &Sweeper{
		orders:     orders,
		registry:   registry,
		reconciler: reconciler,
		grace:      grace,
		expiry:     expiry,
		batchSize:  100,
		now:        time.Now,
	}
}

// RunOnce sweeps one batch of stale pending orders
func (s *Sweeper) RunOnce(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	now := s.now()
	stale, err := s.orders.ListStalePending(ctx, now.Add(-s.grace), s.batchSize)
	if err != nil {
		return report, err
	}

	for _, order := range stale {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++
		expired := now.Sub(order.CreatedAt) >= s.expiry

		sig, err := s.query(ctx, order)
		if err != nil {
			// an unanswered query says nothing about the payment, even past expiry
			log.Printf("Sweeper: status query for order %s failed: %v", order.ID, err)
			report.Errors++
			continue
		}

		if !sig.IsTerminal() {
			if !expired {
				continue
			}
			sig = models.Signal{
				Provider:  models.ProviderSystem,
				Reference: order.ID,
				Outcome:   models.OutcomeFailure,
				Reason:    "payment window expired",
			}
		}

		result, err := s.reconciler.Apply(ctx, sig)
		if err != nil {
			log.Printf("Sweeper: failed to resolve order %s: %v", order.ID, err)
			report.Errors++
			continue
		}
		if result.Applied {
			report.Resolved++
			if sig.Provider == models.ProviderSystem {
				report.Expired++
			}
		}
	}
	return report, nil
}

// query asks the order's provider for its status; rails without a status API report pending
func (s *Sweeper) query(ctx context.Context, order *models.Order) (models.Signal, error) {
	pending := models.Signal{Provider: order.Provider, Reference: order.ProviderReference, Outcome: models.OutcomePending}
	if order.ProviderReference == "" {
		return pending, nil
	}
	querier, ok := s.registry.Querier(order.Provider)
	if !ok {
		return pending, nil
	}
	sig, err := querier.QueryStatus(ctx, order)
	if err != nil {
		return pending, err
	}
	if sig.Reference == "" {
		sig.Reference = order.ProviderReference
	}
	return sig, nil
}

// Run sweeps on every tick until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Printf("Pending order sweeper started (every %s, grace %s, expiry %s)", interval, s.grace, s.expiry)

	for {
		select {
		case <-ctx.Done():
			log.Println("Pending order sweeper stopped")
			return
		case <-ticker.C:
			report, err := s.RunOnce(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Sweeper run failed: %v", err)
				continue
			}
			if report.Resolved > 0 || report.Errors > 0 {
				log.Printf("Sweeper: checked %d, resolved %d (%d expired), %d errors",
					report.Checked, report.Resolved, report.Expired, report.Errors)
			}
		}
	}
}
