package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"tikiti/internal/models"
	"tikiti/internal/services"
)

// PayoutHandler serves the admin payout operations
type PayoutHandler struct {
	payoutService *services.PayoutService
}

// NewPayoutHandler creates a new payout handler
func NewPayoutHandler(payoutService *services.PayoutService) *PayoutHandler {
	return &PayoutHandler{payoutService: payoutService}
}

// TriggerForOrder records the payouts of one completed order
func (h *PayoutHandler) TriggerForOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuidParam(r, "id", models.ErrOrderNotFound)
	if err != nil {
		writeError(w, r, err)
		return
	}

	records, err := h.payoutService.TriggerForOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"order_id": orderID,
		"payouts":  records,
	})
}

// RunBatch runs the payout batch now instead of waiting for the schedule
func (h *PayoutHandler) RunBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := h.payoutService.RunBatch(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

// MarkPaid records that a payout was disbursed
func (h *PayoutHandler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	payoutID, err := uuidParam(r, "id", models.ErrPayoutNotFound)
	if err != nil {
		writeError(w, r, err)
		return
	}

	record, err := h.payoutService.MarkPaid(r.Context(), payoutID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// ListPayouts lists payout records, optionally for one organizer
func (h *PayoutHandler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	organizerID := r.URL.Query().Get("organizer")
	if organizerID != "" {
		if _, err := uuid.Parse(organizerID); err != nil {
			writeError(w, r, models.NewValidationError("organizer", "organizer must be a UUID"))
			return
		}
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	records, err := h.payoutService.List(r.Context(), organizerID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if records == nil {
		records = []models.PayoutRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"payouts": records,
		"count":   len(records),
	})
}

// StatementURL returns a short-lived download link for a batch statement
func (h *PayoutHandler) StatementURL(w http.ResponseWriter, r *http.Request) {
	batchID, err := uuidParam(r, "batchID", models.ErrStatementNotFound)
	if err != nil {
		writeError(w, r, err)
		return
	}

	url, err := h.payoutService.StatementURL(r.Context(), batchID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"batch_id": batchID,
		"url":      url,
	})
}
