package services

import (
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tikiti/internal/models"
)

func TestRenderStatement(t *testing.T) {
	created := time.Date(2026, 5, 4, 0, 3, 0, 0, time.UTC)
	records := []models.PayoutRecord{
		{ID: "po-1", OrganizerID: "org-a", OrderIDs: []string{"o-1", "o-2"}, Amount: 3800, Currency: models.CurrencyKES, Status: models.PayoutPending, TicketCount: 4, CreatedAt: created},
		{ID: "po-2", OrganizerID: "org-b", OrderIDs: []string{"o-3"}, Amount: 9499, Currency: models.CurrencyUSD, Status: models.PayoutPending, TicketCount: 2, CreatedAt: created},
		{ID: "po-3", OrganizerID: "org-c", OrderIDs: []string{"o-4"}, Amount: 1200, Currency: models.CurrencyKES, Status: models.PayoutPending, TicketCount: 1, CreatedAt: created},
	}

	data, err := RenderStatement("batch-1", records, created)
	require.NoError(t, err)

	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 6)

	assert.Equal(t, statementHeader, rows[0])
	assert.Equal(t, []string{"po-1", "batch-1", "org-a", "KES", "3800", "4", "o-1 o-2", "pending", "2026-05-04T00:03:00Z"}, rows[1])
	assert.Equal(t, "94.99", rows[2][4])

	assert.Equal(t, []string{"TOTAL", "batch-1", "", "KES", "5000", "", "", "", "2026-05-04T00:03:00Z"}, rows[4])
	assert.Equal(t, []string{"TOTAL", "batch-1", "", "USD", "94.99", "", "", "", "2026-05-04T00:03:00Z"}, rows[5])

	t.Run("empty batch is just a header", func(t *testing.T) {
		data, err := RenderStatement("batch-2", nil, created)
		require.NoError(t, err)
		assert.Equal(t, strings.Join(statementHeader, ",")+"\n", string(data))
	})
}
