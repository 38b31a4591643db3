package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"tikiti/internal/models"
)

// CheckInService admits ticket holders at the venue
type CheckInService struct {
	tickets TicketStore
	catalog Catalog
	now     Clock
}

// NewCheckInService creates a new check-in service
func NewCheckInService(tickets TicketStore, catalog Catalog) *CheckInService {
	return &CheckInService{tickets: tickets, catalog: catalog, now: time.Now}
}

// CheckIn validates a scanned QR payload and marks the ticket used. Only the event's
// organizer (or an admin) may scan for an event.
func (s *CheckInService) CheckIn(ctx context.Context, caller models.Identity, eventID, rawQR string) (*models.CheckInResult, error) {
	event, err := s.catalog.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.OrganizerID != caller.UserID && !caller.IsAdmin() {
		return nil, fmt.Errorf("%w: only the organizer can check in tickets", models.ErrForbidden)
	}

	payload, err := models.ValidateQRPayload(rawQR)
	if err != nil {
		return nil, err
	}
	ticket, err := s.tickets.GetByID(ctx, payload.TicketID)
	if err != nil {
		return nil, err
	}
	if ticket.EventID != eventID || payload.EventID != eventID {
		return nil, models.ErrWrongEvent
	}
	if err := ticket.CanCheckIn(); err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.tickets.CheckIn(ctx, ticket.ID, eventID, now); err != nil {
		return nil, err
	}
	log.Printf("Checked in ticket %s for event %s", ticket.ID, eventID)

	return &models.CheckInResult{
		Success:     true,
		Message:     "Welcome! Ticket checked in",
		TicketID:    ticket.ID,
		TicketType:  ticket.TicketType,
		HolderID:    ticket.UserID,
		CheckedInAt: &now,
	}, nil
}
