package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tikiti/internal/models"
)

// maxConcurrentSMSBatches bounds the in-flight requests to the SMS gateway
const maxConcurrentSMSBatches = 4

// BroadcastService sends emergency SMS alerts to the holders of an event's tickets
type BroadcastService struct {
	catalog    Catalog
	tickets    TicketStore
	broadcasts BroadcastStore
	sms        SMSSender
	chunkSize  int
	newID      IDGenerator
	now        Clock
}

// NewBroadcastService creates a new broadcast service sending chunkSize recipients per request
func NewBroadcastService(catalog Catalog, tickets TicketStore, broadcasts BroadcastStore, sms SMSSender, chunkSize int) *BroadcastService {
	if chunkSize <= 0 {
		chunkSize = 100
	}
	return &BroadcastService{
		catalog:    catalog,
		tickets:    tickets,
		broadcasts: broadcasts,
		sms:        sms,
		chunkSize:  chunkSize,
		newID:      uuid.NewString,
		now:        time.Now,
	}
}

// Send renders the alert and delivers it to every unique active ticket holder with a phone
func (s *BroadcastService) Send(ctx context.Context, caller models.Identity, req models.BroadcastRequest) (*models.Broadcast, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	event, err := s.catalog.GetEvent(ctx, req.EventID)
	if err != nil {
		return nil, err
	}
	if event.OrganizerID != caller.UserID {
		return nil, fmt.Errorf("%w: only the organizer can broadcast", models.ErrForbidden)
	}

	contacts, err := s.tickets.ListActiveHolders(ctx, event.ID)
	if err != nil {
		return nil, err
	}
	recipients := uniqueRecipients(contacts)
	if len(recipients) == 0 {
		return nil, models.ErrNoRecipients
	}

	message := models.RenderBroadcast(req.Type, event.Title, req.CustomMessage, req.NewDate)
	failed, err := s.deliver(ctx, recipients, message)
	if err != nil {
		return nil, err
	}

	b := &models.Broadcast{
		ID:             s.newID(),
		EventID:        event.ID,
		OrganizerID:    caller.UserID,
		Type:           req.Type,
		Message:        message,
		RecipientCount: len(recipients),
		FailedCount:    failed,
		SentAt:         s.now(),
	}
	if err := s.broadcasts.Create(ctx, b); err != nil {
		return nil, err
	}
	log.Printf("Broadcast %s (%s) for event %s: %d recipient(s), %d failed", b.ID, b.Type, event.ID, b.RecipientCount, failed)
	return b, nil
}

// History lists the broadcasts sent for an event
func (s *BroadcastService) History(ctx context.Context, caller models.Identity, eventID string) ([]models.Broadcast, error) {
	event, err := s.catalog.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.OrganizerID != caller.UserID && !caller.IsAdmin() {
		return nil, models.ErrForbidden
	}
	return s.broadcasts.ListByEvent(ctx, eventID)
}

// deliver sends the message in chunks. A failed chunk counts all of its recipients as failed;
// the broadcast only errors when nothing was delivered.
func (s *BroadcastService) deliver(ctx context.Context, recipients []string, message string) (int, error) {
	var (
		mu       sync.Mutex
		failed   int
		firstErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSMSBatches)
	for start := 0; start < len(recipients); start += s.chunkSize {
		chunk := recipients[start:min(start+s.chunkSize, len(recipients))]
		g.Go(func() error {
			n, err := s.sms.Send(gctx, chunk, message)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Printf("SMS batch of %d failed: %v", len(chunk), err)
				if firstErr == nil {
					firstErr = err
				}
				n = len(chunk)
			}
			failed += n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	if failed == len(recipients) && firstErr != nil {
		return failed, fmt.Errorf("broadcast not delivered: %w", firstErr)
	}
	return failed, nil
}

// uniqueRecipients normalizes holder phones to +254... and drops duplicates and unusable numbers
func uniqueRecipients(contacts []models.Contact) []string {
	seen := make(map[string]bool, len(contacts))
	recipients := make([]string, 0, len(contacts))
	for _, c := range contacts {
		phone, err := models.SMSRecipient(c.Phone)
		if err != nil {
			log.Printf("Skipping holder %s: %v", c.UserID, err)
			continue
		}
		if seen[phone] {
			continue
		}
		seen[phone] = true
		recipients = append(recipients, phone)
	}
	return recipients
}
