package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"tikiti/internal/models"
)

// Materialize turns a cart into an order and its individual tickets.
// It is pure apart from the ID generator: one ticket per unit, each carrying its own fee split.
func Materialize(cart models.Cart, buyer models.Identity, method models.PaymentMethod, phone, email string, newID IDGenerator, now time.Time) (*models.Order, []models.Ticket, error) {
	if cart.IsEmpty() {
		return nil, nil, models.ErrEmptyCart
	}
	if buyer.UserID == "" {
		return nil, nil, models.ErrUnauthorized
	}

	totals := cart.Totals()
	order := &models.Order{
		ID:            newID(),
		UserID:        buyer.UserID,
		Subtotal:      totals.Subtotal,
		PlatformFee:   totals.PlatformFee,
		GrandTotal:    totals.GrandTotal,
		Currency:      totals.Currency,
		PaymentMethod: method,
		PhoneNumber:   phone,
		BuyerEmail:    email,
		PaymentStatus: models.OrderPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	tickets := make([]models.Ticket, 0, totals.ItemCount)
	for _, line := range cart.Lines {
		order.LineItems = append(order.LineItems, models.OrderLineItem{
			EventID:        line.EventID,
			EventTitle:     line.EventTitle,
			OrganizerID:    line.OrganizerID,
			TicketTypeID:   line.TicketTypeID,
			TicketTypeName: line.TicketTypeName,
			UnitPrice:      line.UnitPrice,
			Quantity:       line.Quantity,
			IsVirtual:      line.IsVirtual,
		})

		share, payout := models.SplitFee(line.UnitPrice)
		for i := 0; i < line.Quantity; i++ {
			t := models.Ticket{
				ID:               newID(),
				OrderID:          order.ID,
				UserID:           buyer.UserID,
				EventID:          line.EventID,
				OrganizerID:      line.OrganizerID,
				TicketTypeID:     line.TicketTypeID,
				TicketType:       line.TicketTypeName,
				UnitPrice:        line.UnitPrice,
				PlatformFeeShare: share,
				OrganizerPayout:  payout,
				Currency:         line.Currency,
				IsVirtual:        line.IsVirtual,
				PaymentStatus:    models.TicketPending,
				CreatedAt:        now,
			}
			if t.IsVirtual {
				t.StreamToken = newID()
			}
			qr, err := models.EncodeQRPayload(&t)
			if err != nil {
				return nil, nil, err
			}
			t.QRPayload = qr
			tickets = append(tickets, t)
			order.TicketIDs = append(order.TicketIDs, t.ID)
		}
	}

	if err := order.Validate(); err != nil {
		return nil, nil, err
	}
	return order, tickets, nil
}

// CheckoutService creates orders from carts and starts the payment on the chosen rail
type CheckoutService struct {
	registry         *Registry
	orders           OrderStore
	reconciler       *Reconciler
	publisher        EventPublisher
	metrics          *Metrics
	immediatePayouts bool
	newID            IDGenerator
	now              Clock
	referenceBackoff time.Duration
}

// referenceAttempts bounds the retries for recording a provider reference after a charge started
const referenceAttempts = 3

// NewCheckoutService creates a checkout service
func NewCheckoutService(registry *Registry, orders OrderStore, reconciler *Reconciler, publisher EventPublisher, metrics *Metrics, immediatePayouts bool) *CheckoutService {
	return &CheckoutService{
		registry:         registry,
		orders:           orders,
		reconciler:       reconciler,
		publisher:        publisher,
		metrics:          metrics,
		immediatePayouts: immediatePayouts,
		newID:            uuid.NewString,
		now:              time.Now,
		referenceBackoff: 200 * time.Millisecond,
	}
}

// Checkout materializes the cart and initiates payment.
// For asynchronous rails the order is left pending with the provider reference recorded.
func (s *CheckoutService) Checkout(ctx context.Context, cart models.Cart, buyer models.Identity, req models.CheckoutRequest) (*models.CheckoutResult, error) {
	if cart.IsEmpty() {
		return nil, models.ErrEmptyCart
	}
	method, err := models.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		return nil, err
	}
	totals := cart.Totals()
	if !models.IsMethodOffered(method, totals.Currency, totals.GrandTotal) {
		return nil, fmt.Errorf("%w: %s for %s %s", models.ErrMethodNotOffered, method,
			totals.Currency, models.FormatAmount(totals.GrandTotal, totals.Currency))
	}

	phone, err := checkoutPhone(method, req.PhoneNumber, buyer.Phone)
	if err != nil {
		return nil, err
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		email = buyer.Email
	}

	adapter, err := s.registry.ForMethod(method)
	if err != nil {
		return nil, err
	}

	order, tickets, err := Materialize(cart, buyer, method, phone, email, s.newID, s.now())
	if err != nil {
		return nil, err
	}
	order.Provider = adapter.Provider()

	if adapter.Flow() == models.FlowSync {
		return s.checkoutSync(ctx, adapter, order, tickets, buyer)
	}
	return s.checkoutAsync(ctx, adapter, order, tickets, buyer)
}

// checkoutSync settles within the request: the order is written already completed
func (s *CheckoutService) checkoutSync(ctx context.Context, adapter PaymentAdapter, order *models.Order, tickets []models.Ticket, buyer models.Identity) (*models.CheckoutResult, error) {
	handle, err := adapter.Initiate(ctx, order, buyer)
	if err != nil {
		return nil, err
	}

	now := order.CreatedAt
	order.PaymentStatus = models.OrderCompleted
	order.ProviderReference = handle.Reference
	order.ConfirmationID = handle.Reference
	order.CompletedAt = &now
	for i := range tickets {
		tickets[i].PaymentStatus = models.TicketActive
		tickets[i].ReceiptNumber = handle.Reference
	}

	var payouts []models.PayoutRecord
	if s.immediatePayouts {
		payouts = models.AggregatePayouts(tickets, s.newID, now)
		order.PayoutStatus = models.PayoutStatusProcessed
		order.PayoutProcessedAt = &now
	}

	if err := s.orders.CreateWithTickets(ctx, order, tickets, payouts); err != nil {
		return nil, err
	}
	s.metrics.CheckoutStarted(order.Provider)
	s.metrics.TransitionApplied(order.Provider, models.OrderCompleted)
	s.metrics.PayoutsRecorded(len(payouts))
	log.Printf("Order %s completed on %s rail (%d tickets)", order.ID, order.Provider, len(tickets))

	tr := &models.OrderTransition{OrderID: order.ID, To: models.OrderCompleted, At: now, Payouts: payouts}
	sig := models.Signal{Provider: order.Provider, Reference: handle.Reference, Outcome: models.OutcomeSuccess}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, transitionEvents(order, sig, tr)...); err != nil {
			log.Printf("Failed to publish completion of order %s: %v", order.ID, err)
		}
	}
	return &models.CheckoutResult{Order: order, Handle: handle}, nil
}

// checkoutAsync persists the pending order first so any callback can find it
func (s *CheckoutService) checkoutAsync(ctx context.Context, adapter PaymentAdapter, order *models.Order, tickets []models.Ticket, buyer models.Identity) (*models.CheckoutResult, error) {
	if err := s.orders.CreateWithTickets(ctx, order, tickets, nil); err != nil {
		return nil, err
	}
	s.metrics.CheckoutStarted(order.Provider)

	handle, err := adapter.Initiate(ctx, order, buyer)
	if err != nil {
		s.abandon(order, fmt.Sprintf("%s initiation failed", order.Provider))
		return nil, err
	}

	if err := s.recordReference(ctx, order, adapter.Provider(), handle.Reference); err != nil {
		return nil, err
	}
	order.ProviderReference = handle.Reference
	log.Printf("Order %s awaiting %s payment (ref %s)", order.ID, order.Provider, handle.Reference)

	return &models.CheckoutResult{Order: order, Handle: handle}, nil
}

// recordReference tags the order with the rail's reference. The charge is already live,
// so the write is retried outside the request's cancellation and a final failure is logged
// with everything needed to match the payment by hand.
func (s *CheckoutService) recordReference(ctx context.Context, order *models.Order, provider models.Provider, reference string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	var err error
	for attempt := 1; attempt <= referenceAttempts; attempt++ {
		if err = s.orders.SetProviderReference(ctx, order.ID, provider, reference); err == nil {
			return nil
		}
		log.Printf("Failed to record %s reference %s for order %s (attempt %d/%d): %v",
			provider, reference, order.ID, attempt, referenceAttempts, err)
		if attempt < referenceAttempts {
			time.Sleep(s.referenceBackoff * time.Duration(attempt))
		}
	}
	log.Printf("ERROR: order %s has a live %s charge with reference %s that is not recorded; reconcile manually",
		order.ID, provider, reference)
	return fmt.Errorf("failed to record provider reference for order %s: %w", order.ID, err)
}

// abandon fails an order whose payment never started, releasing its reserved inventory.
// It runs detached from the request context so a cancelled request still releases stock.
func (s *CheckoutService) abandon(order *models.Order, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sig := models.Signal{
		Provider:  models.ProviderSystem,
		Reference: order.ID,
		Outcome:   models.OutcomeFailure,
		Reason:    reason,
	}
	if _, err := s.reconciler.Apply(ctx, sig); err != nil {
		log.Printf("Failed to release order %s after initiation error: %v", order.ID, err)
	}
}

// checkoutPhone resolves and normalizes the number a push prompt is sent to
func checkoutPhone(method models.PaymentMethod, requested, onFile string) (string, error) {
	if !method.RequiresPhone() {
		return "", nil
	}
	phone := strings.TrimSpace(requested)
	if phone == "" {
		phone = onFile
	}
	if phone == "" {
		return "", &models.ValidationError{Field: "phone_number", Message: "phone number is required", Err: models.ErrPhoneRequired}
	}
	if method == models.MethodMpesa {
		return models.NormalizeKenyanMSISDN(phone)
	}
	return models.NormalizeMSISDN(phone)
}

