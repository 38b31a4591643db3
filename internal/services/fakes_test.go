package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"tikiti/internal/models"
)

// fakeCatalog is a map-backed Catalog
type fakeCatalog struct {
	events      map[string]*models.Event
	ticketTypes map[string]*models.TicketType
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{events: map[string]*models.Event{}, ticketTypes: map[string]*models.TicketType{}}
}

func (c *fakeCatalog) GetEvent(_ context.Context, id string) (*models.Event, error) {
	e, ok := c.events[id]
	if !ok {
		return nil, models.ErrEventNotFound
	}
	cp := *e
	return &cp, nil
}

func (c *fakeCatalog) GetTicketType(_ context.Context, id string) (*models.TicketType, error) {
	tt, ok := c.ticketTypes[id]
	if !ok {
		return nil, models.ErrTicketTypeNotFound
	}
	cp := *tt
	return &cp, nil
}

// fakeOrderStore keeps orders, tickets, payouts and inventory in memory with the
// same pending-only transition guard as the SQL repository
type fakeOrderStore struct {
	mu       sync.Mutex
	orders   map[string]*models.Order
	tickets  map[string][]models.Ticket
	payouts  map[string]models.PayoutRecord
	sold     map[string]int
	applied  int
	failNext error

	referenceFailures int
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{
		orders:  map[string]*models.Order{},
		tickets: map[string][]models.Ticket{},
		payouts: map[string]models.PayoutRecord{},
		sold:    map[string]int{},
	}
}

func (s *fakeOrderStore) CreateWithTickets(_ context.Context, order *models.Order, tickets []models.Ticket, payouts []models.PayoutRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNext; err != nil {
		s.failNext = nil
		return err
	}
	cp := *order
	s.orders[order.ID] = &cp
	s.tickets[order.ID] = append([]models.Ticket(nil), tickets...)
	for _, li := range order.LineItems {
		s.sold[li.TicketTypeID] += li.Quantity
	}
	for _, p := range payouts {
		s.payouts[p.ID] = p
	}
	return nil
}

func (s *fakeOrderStore) GetByID(_ context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *fakeOrderStore) GetByProviderReference(_ context.Context, provider models.Provider, reference string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.Provider == provider && o.ProviderReference == reference {
			cp := *o
			return &cp, nil
		}
	}
	return nil, models.ErrOrderNotFound
}

func (s *fakeOrderStore) SetProviderReference(_ context.Context, orderID string, provider models.Provider, reference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.referenceFailures > 0 {
		s.referenceFailures--
		return errors.New("connection reset by peer")
	}
	o, ok := s.orders[orderID]
	if !ok {
		return models.ErrOrderNotFound
	}
	o.Provider = provider
	o.ProviderReference = reference
	return nil
}

func (s *fakeOrderStore) GetTickets(_ context.Context, orderID string) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Ticket(nil), s.tickets[orderID]...), nil
}

func (s *fakeOrderStore) ApplyTransition(_ context.Context, tr *models.OrderTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[tr.OrderID]
	if !ok {
		return models.ErrOrderNotFound
	}
	if o.PaymentStatus != models.OrderPending {
		return models.ErrAlreadyTerminal
	}
	o.PaymentStatus = tr.To
	o.ConfirmationID = tr.ConfirmationID
	o.FailureReason = tr.FailureReason
	o.UpdatedAt = tr.At
	if tr.To == models.OrderCompleted {
		at := tr.At
		o.CompletedAt = &at
	}
	if tr.PayoutProcessed {
		o.PayoutStatus = models.PayoutStatusProcessed
	}
	for i := range s.tickets[o.ID] {
		s.tickets[o.ID][i].PaymentStatus = tr.TicketStatus
	}
	for _, p := range tr.Payouts {
		s.payouts[p.ID] = p
	}
	for ttID, n := range tr.ReleaseInventory {
		s.sold[ttID] -= n
	}
	s.applied++
	return nil
}

func (s *fakeOrderStore) ListStalePending(_ context.Context, createdBefore time.Time, limit int) ([]*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stale []*models.Order
	for _, o := range s.orders {
		if o.PaymentStatus == models.OrderPending && o.CreatedAt.Before(createdBefore) {
			cp := *o
			stale = append(stale, &cp)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].CreatedAt.Before(stale[j].CreatedAt) })
	if len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

// fakePayoutStore shares the order store's state so batch runs see completed orders
type fakePayoutStore struct {
	orders *fakeOrderStore
}

func (p *fakePayoutStore) ListUnprocessedOrders(_ context.Context, limit int) ([]*models.Order, error) {
	s := p.orders
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Order
	for _, o := range s.orders {
		if o.NeedsPayout() {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (p *fakePayoutStore) ListPaidTickets(_ context.Context, orderIDs []string) ([]models.Ticket, error) {
	s := p.orders
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Ticket
	for _, id := range orderIDs {
		if o, ok := s.orders[id]; ok && o.PaymentStatus == models.OrderCompleted {
			out = append(out, s.tickets[id]...)
		}
	}
	return out, nil
}

func (p *fakePayoutStore) RecordBatch(_ context.Context, orderIDs []string, records []models.PayoutRecord, at time.Time) error {
	s := p.orders
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range orderIDs {
		o, ok := s.orders[id]
		if !ok || !o.NeedsPayout() {
			return models.ErrPayoutProcessed
		}
	}
	for _, id := range orderIDs {
		s.orders[id].PayoutStatus = models.PayoutStatusProcessed
		s.orders[id].PayoutProcessedAt = &at
	}
	for _, r := range records {
		s.payouts[r.ID] = r
	}
	return nil
}

func (p *fakePayoutStore) ListByOrder(_ context.Context, orderID string) ([]models.PayoutRecord, error) {
	s := p.orders
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PayoutRecord
	for _, r := range s.payouts {
		for _, id := range r.OrderIDs {
			if id == orderID {
				out = append(out, r)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrganizerID < out[j].OrganizerID })
	return out, nil
}

func (p *fakePayoutStore) List(_ context.Context, organizerID string, limit int) ([]models.PayoutRecord, error) {
	s := p.orders
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PayoutRecord
	for _, r := range s.payouts {
		if organizerID == "" || r.OrganizerID == organizerID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (p *fakePayoutStore) GetByID(_ context.Context, id string) (*models.PayoutRecord, error) {
	s := p.orders
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.payouts[id]
	if !ok {
		return nil, models.ErrPayoutNotFound
	}
	return &r, nil
}

func (p *fakePayoutStore) MarkPaid(_ context.Context, id string, at time.Time) error {
	s := p.orders
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.payouts[id]
	if !ok {
		return models.ErrPayoutNotFound
	}
	if r.Status != models.PayoutPending {
		return models.ErrPayoutAlreadyPaid
	}
	r.Status = models.PayoutPaid
	r.PaidAt = &at
	s.payouts[id] = r
	return nil
}

// recordingPublisher remembers every published event
type recordingPublisher struct {
	mu     sync.Mutex
	events []models.PaymentEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, events ...models.PaymentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return p.err
}

func (p *recordingPublisher) ofType(t models.PaymentEventType) []models.PaymentEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.PaymentEvent
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// MockPaymentAdapter is a testify mock of an asynchronous rail with a status API
type MockPaymentAdapter struct {
	mock.Mock
	provider models.Provider
	flow     models.Flow
}

func (m *MockPaymentAdapter) Provider() models.Provider { return m.provider }
func (m *MockPaymentAdapter) Flow() models.Flow         { return m.flow }

func (m *MockPaymentAdapter) Initiate(ctx context.Context, order *models.Order, buyer models.Identity) (*models.ProviderHandle, error) {
	args := m.Called(ctx, order, buyer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ProviderHandle), args.Error(1)
}

func (m *MockPaymentAdapter) QueryStatus(ctx context.Context, order *models.Order) (models.Signal, error) {
	args := m.Called(ctx, order)
	return args.Get(0).(models.Signal), args.Error(1)
}

func (m *MockPaymentAdapter) ParseWebhook(ctx context.Context, r *http.Request) (models.Signal, error) {
	args := m.Called(ctx, r)
	return args.Get(0).(models.Signal), args.Error(1)
}

// sequentialIDs returns an IDGenerator yielding prefix-1, prefix-2, ...
func sequentialIDs(prefix string) IDGenerator {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// testEvent seeds a catalog with one event and one ticket type
func testEvent(c *fakeCatalog, eventID, organizerID, ttID string, price int64, currency models.Currency, quantity int) {
	c.events[eventID] = &models.Event{ID: eventID, OrganizerID: organizerID, Title: "Nairobi Jazz Night", HasVirtualTickets: true}
	c.ticketTypes[ttID] = &models.TicketType{ID: ttID, EventID: eventID, Name: "Regular", Price: price, Currency: currency, Quantity: quantity}
}

// testCart builds a cart through the catalog rules
func testCart(c *fakeCatalog, lines ...models.AddToCartRequest) models.Cart {
	var cart models.Cart
	for _, l := range lines {
		event := c.events[l.EventID]
		tt := c.ticketTypes[l.TicketTypeID]
		next, err := cart.Add(event, tt, l.Quantity, l.IsVirtual)
		if err != nil {
			panic(err)
		}
		cart = next
	}
	return cart
}
