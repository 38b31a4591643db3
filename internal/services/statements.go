package services

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"tikiti/internal/models"
)

var statementHeader = []string{
	"payout_id", "batch_id", "organizer_id", "currency", "amount",
	"ticket_count", "order_ids", "status", "created_at",
}

// RenderStatement writes a batch's payout records as CSV, one row per record followed by
// one total row per currency
func RenderStatement(batchID string, records []models.PayoutRecord, generatedAt time.Time) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(statementHeader); err != nil {
		return nil, fmt.Errorf("failed to write statement header: %w", err)
	}
	for _, rec := range records {
		row := []string{
			rec.ID,
			batchID,
			rec.OrganizerID,
			string(rec.Currency),
			models.FormatAmount(rec.Amount, rec.Currency),
			strconv.Itoa(rec.TicketCount),
			strings.Join(rec.OrderIDs, " "),
			string(rec.Status),
			rec.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write statement row for payout %s: %w", rec.ID, err)
		}
	}

	totals := models.SumPayouts(records)
	currencies := make([]string, 0, len(totals))
	for c := range totals {
		currencies = append(currencies, string(c))
	}
	sort.Strings(currencies)
	for _, code := range currencies {
		c := models.Currency(code)
		total := totals[c]
		row := []string{"TOTAL", batchID, "", string(c), models.FormatAmount(total, c), "", "", "", generatedAt.UTC().Format(time.RFC3339)}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write statement total: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush statement: %w", err)
	}
	return buf.Bytes(), nil
}
