package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/stretchr/testify/require"

	"tikiti/internal/middleware"
	"tikiti/internal/models"
	"tikiti/internal/services"
)

// memCatalog is a map-backed services.Catalog
type memCatalog struct {
	events      map[string]*models.Event
	ticketTypes map[string]*models.TicketType
}

func (c *memCatalog) GetEvent(_ context.Context, id string) (*models.Event, error) {
	e, ok := c.events[id]
	if !ok {
		return nil, models.ErrEventNotFound
	}
	cp := *e
	return &cp, nil
}

func (c *memCatalog) GetTicketType(_ context.Context, id string) (*models.TicketType, error) {
	tt, ok := c.ticketTypes[id]
	if !ok {
		return nil, models.ErrTicketTypeNotFound
	}
	cp := *tt
	return &cp, nil
}

// memOrders keeps orders, tickets and payouts in memory. It also serves as the
// ticket and payout store so every service sees the same state.
type memOrders struct {
	mu         sync.Mutex
	orders     map[string]*models.Order
	tickets    map[string]*models.Ticket
	payouts    map[string]models.PayoutRecord
	contacts   map[string][]models.Contact
	broadcasts []models.Broadcast
}

func newMemOrders() *memOrders {
	return &memOrders{
		orders:   map[string]*models.Order{},
		tickets:  map[string]*models.Ticket{},
		payouts:  map[string]models.PayoutRecord{},
		contacts: map[string][]models.Contact{},
	}
}

func (s *memOrders) CreateWithTickets(_ context.Context, order *models.Order, tickets []models.Ticket, payouts []models.PayoutRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *order
	s.orders[order.ID] = &cp
	for i := range tickets {
		t := tickets[i]
		s.tickets[t.ID] = &t
	}
	for _, p := range payouts {
		s.payouts[p.ID] = p
	}
	return nil
}

func (s *memOrders) GetByID(_ context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *memOrders) GetByProviderReference(_ context.Context, provider models.Provider, reference string) (*models.Order, error) {
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

func (s *memOrders) SetProviderReference(_ context.Context, orderID string, provider models.Provider, reference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return models.ErrOrderNotFound
	}
	o.Provider = provider
	o.ProviderReference = reference
	return nil
}

func (s *memOrders) GetTickets(_ context.Context, orderID string) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Ticket
	for _, t := range s.tickets {
		if t.OrderID == orderID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memOrders) ApplyTransition(_ context.Context, tr *models.OrderTransition) error {
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
	if tr.To == models.OrderCompleted {
		at := tr.At
		o.CompletedAt = &at
	}
	if tr.PayoutProcessed {
		o.PayoutStatus = models.PayoutStatusProcessed
	}
	for _, t := range s.tickets {
		if t.OrderID == o.ID {
			t.PaymentStatus = tr.TicketStatus
		}
	}
	for _, p := range tr.Payouts {
		s.payouts[p.ID] = p
	}
	return nil
}

func (s *memOrders) ListStalePending(context.Context, time.Time, int) ([]*models.Order, error) {
	return nil, nil
}

// ticketStore adapts memOrders to services.TicketStore, whose GetByID reads tickets
type ticketStore struct{ *memOrders }

func (s ticketStore) GetByID(_ context.Context, id string) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, models.ErrTicketNotFound
	}
	cp := *t
	return &cp, nil
}

func (s ticketStore) CheckIn(_ context.Context, ticketID, eventID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[ticketID]
	if !ok || t.EventID != eventID {
		return models.ErrTicketNotFound
	}
	if t.CheckedIn {
		return models.ErrAlreadyCheckedIn
	}
	t.CheckedIn = true
	t.CheckedInAt = &at
	return nil
}

func (s ticketStore) ListActiveHolders(_ context.Context, eventID string) ([]models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Contact(nil), s.contacts[eventID]...), nil
}

// broadcastStore adapts memOrders to services.BroadcastStore
type broadcastStore struct{ *memOrders }

func (s broadcastStore) Create(_ context.Context, b *models.Broadcast) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcasts = append(s.broadcasts, *b)
	return nil
}

func (s broadcastStore) ListByEvent(_ context.Context, eventID string) ([]models.Broadcast, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Broadcast
	for _, b := range s.broadcasts {
		if b.EventID == eventID {
			out = append(out, b)
		}
	}
	return out, nil
}

// payoutStore adapts memOrders to services.PayoutStore
type payoutStore struct{ *memOrders }

func (s payoutStore) ListUnprocessedOrders(_ context.Context, limit int) ([]*models.Order, error) {
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

func (s payoutStore) ListPaidTickets(_ context.Context, orderIDs []string) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := map[string]bool{}
	for _, id := range orderIDs {
		wanted[id] = true
	}
	var out []models.Ticket
	for _, t := range s.tickets {
		if wanted[t.OrderID] && t.PaymentStatus == models.TicketActive {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s payoutStore) RecordBatch(_ context.Context, orderIDs []string, records []models.PayoutRecord, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range orderIDs {
		if o, ok := s.orders[id]; ok {
			o.PayoutStatus = models.PayoutStatusProcessed
			o.PayoutProcessedAt = &at
		}
	}
	for _, r := range records {
		s.payouts[r.ID] = r
	}
	return nil
}

func (s payoutStore) ListByOrder(_ context.Context, orderID string) ([]models.PayoutRecord, error) {
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
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s payoutStore) List(_ context.Context, organizerID string, limit int) ([]models.PayoutRecord, error) {
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

func (s payoutStore) GetByID(_ context.Context, id string) (*models.PayoutRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.payouts[id]
	if !ok {
		return nil, models.ErrPayoutNotFound
	}
	return &r, nil
}

func (s payoutStore) MarkPaid(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.payouts[id]
	if !ok {
		return models.ErrPayoutNotFound
	}
	r.Status = models.PayoutPaid
	r.PaidAt = &at
	s.payouts[id] = r
	return nil
}

// memStorage is an in-memory services.StorageService
type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memStorage) Upload(_ context.Context, key string, reader io.Reader, _ string, _ int64) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[key] = data
	return "mem://" + key, nil
}

func (m *memStorage) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memStorage) DownloadURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://statements.tikiti.test/" + key + "?sig=abc", nil
}

// stubSMS records delivered messages
type stubSMS struct {
	mu   sync.Mutex
	sent []string
}

func (s *stubSMS) Send(_ context.Context, recipients []string, message string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, recipients...)
	return 0, nil
}

// stubRail is a scripted payment adapter with a webhook verifier
type stubRail struct {
	provider   models.Provider
	flow       models.Flow
	initErr    error
	webhook    models.Signal
	webhookErr error
}

func (s *stubRail) Provider() models.Provider { return s.provider }
func (s *stubRail) Flow() models.Flow         { return s.flow }

func (s *stubRail) Initiate(_ context.Context, order *models.Order, _ models.Identity) (*models.ProviderHandle, error) {
	if s.initErr != nil {
		return nil, s.initErr
	}
	return &models.ProviderHandle{
		Provider:  s.provider,
		Flow:      s.flow,
		Reference: "REF-" + order.ID[:8],
	}, nil
}

func (s *stubRail) ParseWebhook(_ context.Context, r *http.Request) (models.Signal, error) {
	io.Copy(io.Discard, r.Body)
	return s.webhook, s.webhookErr
}

// approvalRail adds the capture step of a two-phase rail
type approvalRail struct {
	stubRail
	capture  models.Signal
	captured []string
}

func (s *approvalRail) Capture(_ context.Context, providerOrderID string) (models.Signal, error) {
	s.captured = append(s.captured, providerOrderID)
	sig := s.capture
	sig.Reference = providerOrderID
	return sig, nil
}

const (
	testEventID     = "0b7f5f8e-4c1a-4f7e-9a57-3f1d2c9e8a01"
	testTicketType  = "6c2d1e0f-8b3a-4d5c-9e7f-1a2b3c4d5e6f"
	testFreeType    = "9e8d7c6b-5a4f-4e3d-8c2b-1a0f9e8d7c6b"
	testOrganizerID = "4a3b2c1d-0e9f-4a8b-9c7d-6e5f4a3b2c1d"
	testBuyerID     = "1f2e3d4c-5b6a-4978-8a9b-0c1d2e3f4a5b"
)

var (
	buyer     = &models.Identity{UserID: testBuyerID, Email: "wanjiru@example.com", Phone: "254712345678", Role: models.UserRoleUser}
	organizer = &models.Identity{UserID: testOrganizerID, Role: models.UserRoleOrganizer}
	admin     = &models.Identity{UserID: "admin-api-key", Role: models.UserRoleAdmin}
)

// testEnv wires the real services over in-memory stores
type testEnv struct {
	catalog *memCatalog
	store   *memOrders
	storage *memStorage
	sms     *stubSMS
	mpesa   *stubRail
	paypal  *approvalRail
	router  chi.Router
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		catalog: &memCatalog{
			events: map[string]*models.Event{
				testEventID: {ID: testEventID, OrganizerID: testOrganizerID, Title: "Nairobi Jazz Night", HasVirtualTickets: true},
			},
			ticketTypes: map[string]*models.TicketType{
				testTicketType: {ID: testTicketType, EventID: testEventID, Name: "Regular", Price: 1500, Currency: models.CurrencyKES, Quantity: 10},
				testFreeType:   {ID: testFreeType, EventID: testEventID, Name: "Guest", Price: 0, Currency: models.CurrencyKES, Quantity: 5},
			},
		},
		store:   newMemOrders(),
		storage: &memStorage{},
		sms:     &stubSMS{},
		mpesa:   &stubRail{provider: models.ProviderMpesa, flow: models.FlowPush},
		paypal:  &approvalRail{stubRail: stubRail{provider: models.ProviderPayPal, flow: models.FlowApproval}},
	}

	metrics := services.NewMetrics()
	registry := services.NewRegistry(models.ProviderFlutterwave, env.mpesa, env.paypal, services.NewComplimentaryAdapter())
	reconciler := services.NewReconciler(env.store, nil, metrics, false, uuid.NewString, nil)
	checkout := services.NewCheckoutService(registry, env.store, reconciler, nil, metrics, false)
	poller := services.NewPoller(env.store, time.Millisecond, 2)
	payouts := services.NewPayoutService(payoutStore{env.store}, env.store, env.storage, nil, metrics, 10)
	checkIn := services.NewCheckInService(ticketStore{env.store}, env.catalog)
	broadcasts := services.NewBroadcastService(env.catalog, ticketStore{env.store}, broadcastStore{env.store}, env.sms, 50)

	sessionStore := sessions.NewCookieStore([]byte("0123456789abcdef0123456789abcdef"))
	cart := NewCartHandler(services.NewCartService(env.catalog), checkout, sessionStore)
	payment := NewPaymentHandler(registry, reconciler, env.store, poller, metrics)
	payout := NewPayoutHandler(payouts)
	event := NewEventHandler(checkIn, broadcasts)

	r := chi.NewRouter()
	r.Get("/cart", cart.ViewCart)
	r.Delete("/cart", cart.ClearCart)
	r.Post("/cart/lines", cart.AddLine)
	r.Patch("/cart/lines/{id}", cart.UpdateLine)
	r.Delete("/cart/lines/{id}", cart.RemoveLine)
	r.Post("/checkout", cart.Checkout)
	r.Post("/webhooks/mpesa", payment.MpesaCallback)
	r.Post("/webhooks/paystack", payment.PaystackWebhook)
	r.Post("/webhooks/pesapal", payment.PesapalIPN)
	r.Get("/webhooks/pesapal", payment.PesapalIPN)
	r.Post("/orders/{id}/capture", payment.Capture)
	r.Get("/orders/{id}/status", payment.OrderStatus)
	r.Get("/orders/{id}/wait", payment.WaitForOrder)
	r.Get("/payouts", payout.ListPayouts)
	r.Post("/payouts/run", payout.RunBatch)
	r.Post("/payouts/orders/{id}", payout.TriggerForOrder)
	r.Post("/payouts/{id}/paid", payout.MarkPaid)
	r.Get("/payouts/statements/{batchID}", payout.StatementURL)
	r.Post("/events/{eventId}/checkin", event.CheckIn)
	r.Post("/events/{eventId}/broadcasts", event.SendBroadcast)
	r.Get("/events/{eventId}/broadcasts", event.BroadcastHistory)
	env.router = r

	return env
}

// client replays the session cookie between requests, like a browser
type client struct {
	t       *testing.T
	env     *testEnv
	user    *models.Identity
	cookies []*http.Cookie
}

func (env *testEnv) client(t *testing.T, user *models.Identity) *client {
	return &client{t: t, env: env, user: user}
}

func (c *client) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	c.t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(c.t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}
	if c.user != nil {
		req = req.WithContext(middleware.SetUserContext(req.Context(), c.user))
	}

	w := httptest.NewRecorder()
	c.env.router.ServeHTTP(w, req)

	if set := w.Result().Cookies(); len(set) > 0 {
		c.cookies = set
	}
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body middleware.ErrorResponse
	decodeBody(t, w, &body)
	return body.Error
}

// seedPaidTicket stores a completed order with one active venue ticket and returns the ticket
func (env *testEnv) seedPaidTicket(t *testing.T, holder string) models.Ticket {
	t.Helper()
	orderID := uuid.NewString()
	ticket := models.Ticket{
		ID:              uuid.NewString(),
		OrderID:         orderID,
		UserID:          holder,
		EventID:         testEventID,
		OrganizerID:     testOrganizerID,
		TicketTypeID:    testTicketType,
		TicketType:      "Regular",
		UnitPrice:       1500,
		OrganizerPayout: 1425,
		Currency:        models.CurrencyKES,
		PaymentStatus:   models.TicketActive,
	}
	qr, err := models.EncodeQRPayload(&ticket)
	require.NoError(t, err)
	ticket.QRPayload = qr

	order := &models.Order{
		ID:            orderID,
		UserID:        holder,
		Currency:      models.CurrencyKES,
		PaymentStatus: models.OrderCompleted,
		Provider:      models.ProviderMpesa,
		TicketIDs:     []string{ticket.ID},
	}
	require.NoError(t, env.store.CreateWithTickets(context.Background(), order, []models.Ticket{ticket}, nil))
	return ticket
}
