package models

import (
	"sort"
	"time"
)

// PayoutRecordStatus represents the disbursement status of a payout record
type PayoutRecordStatus string

const (
	PayoutPending PayoutRecordStatus = "pending"
	PayoutPaid    PayoutRecordStatus = "paid"
)

// PayoutRecord is the amount owed to one organizer for a set of completed tickets
type PayoutRecord struct {
	ID          string             `json:"id" db:"id"`
	OrganizerID string             `json:"organizer_id" db:"organizer_id"`
	OrderIDs    []string           `json:"order_ids" db:"order_ids"`
	BatchID     string             `json:"batch_id,omitempty" db:"batch_id"`
	Amount      int64              `json:"amount" db:"amount"`
	Currency    Currency           `json:"currency" db:"currency"`
	Status      PayoutRecordStatus `json:"status" db:"status"`
	TicketIDs   []string           `json:"ticket_ids" db:"ticket_ids"`
	TicketCount int                `json:"ticket_count" db:"ticket_count"`
	CreatedAt   time.Time          `json:"created_at" db:"created_at"`
	PaidAt      *time.Time         `json:"paid_at,omitempty" db:"paid_at"`
}

// CanBeMarkedPaid returns true if the payout still awaits disbursement
func (p *PayoutRecord) CanBeMarkedPaid() bool {
	return p.Status == PayoutPending
}

type payoutKey struct {
	organizerID string
	currency    Currency
}

// AggregatePayouts groups ticket payouts into one pending record per organizer and currency.
// The sum of record amounts always equals the sum of the tickets' organizer payouts.
func AggregatePayouts(tickets []Ticket, newID func() string, now time.Time) []PayoutRecord {
	groups := make(map[payoutKey]*PayoutRecord)
	orderSeen := make(map[payoutKey]map[string]bool)
	var keys []payoutKey

	for _, t := range tickets {
		k := payoutKey{organizerID: t.OrganizerID, currency: t.Currency}
		rec, ok := groups[k]
		if !ok {
			rec = &PayoutRecord{
				OrganizerID: t.OrganizerID,
				Currency:    t.Currency,
				Status:      PayoutPending,
				CreatedAt:   now,
			}
			groups[k] = rec
			orderSeen[k] = make(map[string]bool)
			keys = append(keys, k)
		}
		rec.Amount += t.OrganizerPayout
		rec.TicketIDs = append(rec.TicketIDs, t.ID)
		rec.TicketCount++
		if !orderSeen[k][t.OrderID] {
			orderSeen[k][t.OrderID] = true
			rec.OrderIDs = append(rec.OrderIDs, t.OrderID)
		}
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].organizerID != keys[j].organizerID {
			return keys[i].organizerID < keys[j].organizerID
		}
		return keys[i].currency < keys[j].currency
	})

	records := make([]PayoutRecord, 0, len(keys))
	for _, k := range keys {
		rec := groups[k]
		rec.ID = newID()
		records = append(records, *rec)
	}
	return records
}

// SumPayouts totals record amounts per currency
func SumPayouts(records []PayoutRecord) map[Currency]int64 {
	sums := make(map[Currency]int64)
	for _, r := range records {
		sums[r.Currency] += r.Amount
	}
	return sums
}

// SumOrganizerPayouts totals ticket organizer payouts per currency
func SumOrganizerPayouts(tickets []Ticket) map[Currency]int64 {
	sums := make(map[Currency]int64)
	for _, t := range tickets {
		sums[t.Currency] += t.OrganizerPayout
	}
	return sums
}

// PayoutBatch summarizes one scheduled or manual payout run
type PayoutBatch struct {
	ID           string         `json:"id"`
	StartedAt    time.Time      `json:"started_at"`
	OrdersPaid   int            `json:"orders_processed"`
	Records      []PayoutRecord `json:"records"`
	StatementURL string         `json:"statement_url,omitempty"`
}
