package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"tikiti/internal/middleware"
	"tikiti/internal/models"
)

// maxBodyBytes bounds JSON request bodies
const maxBodyBytes = 1 << 20

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Failed to write JSON response: %v", err)
	}
}

// decodeJSON reads a JSON request body into v
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return models.NewValidationError("", "request body is empty")
		}
		return &models.ValidationError{Message: fmt.Sprintf("malformed request body: %v", err)}
	}
	return nil
}

// uuidParam reads a UUID path parameter. Malformed IDs are reported as notFound.
func uuidParam(r *http.Request, name string, notFound error) (string, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", notFound
	}
	return id.String(), nil
}

// currentUser returns the authenticated caller; routes that call it sit behind RequireAuth
func currentUser(r *http.Request) (models.Identity, error) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		return models.Identity{}, models.ErrUnauthorized
	}
	return *user, nil
}

// statusFor maps a domain error to an HTTP status and a stable error code
func statusFor(err error) (int, string) {
	var provErr *models.ProviderError
	var invErr *models.InventoryError

	switch {
	case errors.As(err, &invErr):
		return http.StatusConflict, "insufficient_inventory"
	case errors.Is(err, models.ErrCurrencyMismatch):
		return http.StatusConflict, "currency_mismatch"
	case errors.Is(err, models.ErrMethodNotOffered):
		return http.StatusUnprocessableEntity, "method_not_offered"
	case errors.Is(err, models.ErrPhoneRequired):
		return http.StatusBadRequest, "phone_required"
	case errors.Is(err, models.ErrInvalidPhone):
		return http.StatusBadRequest, "invalid_phone"
	case errors.Is(err, models.ErrVirtualNotSupported):
		return http.StatusBadRequest, "virtual_not_supported"
	case errors.Is(err, models.ErrEmptyCart):
		return http.StatusBadRequest, "empty_cart"
	case errors.Is(err, models.ErrInvalidQRCode):
		return http.StatusBadRequest, "invalid_qr_code"
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrUnsupportedCurrency):
		return http.StatusBadRequest, "invalid_input"

	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden, "forbidden"

	case errors.Is(err, models.ErrEventNotFound),
		errors.Is(err, models.ErrTicketTypeNotFound),
		errors.Is(err, models.ErrOrderNotFound),
		errors.Is(err, models.ErrTicketNotFound),
		errors.Is(err, models.ErrPayoutNotFound),
		errors.Is(err, models.ErrCartLineNotFound),
		errors.Is(err, models.ErrStatementNotFound):
		return http.StatusNotFound, "not_found"

	case errors.Is(err, models.ErrAlreadyCheckedIn):
		return http.StatusConflict, "already_checked_in"
	case errors.Is(err, models.ErrWrongEvent):
		return http.StatusConflict, "wrong_event"
	case errors.Is(err, models.ErrVirtualTicketEntry):
		return http.StatusConflict, "virtual_ticket"
	case errors.Is(err, models.ErrTicketNotActive):
		return http.StatusConflict, "ticket_not_active"
	case errors.Is(err, models.ErrOrderNotPending),
		errors.Is(err, models.ErrOrderNotCompleted),
		errors.Is(err, models.ErrAlreadyTerminal),
		errors.Is(err, models.ErrPayoutAlreadyPaid):
		return http.StatusConflict, "conflict"
	case errors.Is(err, models.ErrNoRecipients):
		return http.StatusUnprocessableEntity, "no_recipients"
	case errors.Is(err, models.ErrUnverifiableSignal),
		errors.Is(err, models.ErrReferenceMismatch),
		errors.Is(err, models.ErrAmountMismatch):
		return http.StatusUnprocessableEntity, "unverifiable_payment"

	case errors.As(err, &provErr):
		if provErr.IsRetryable() {
			return http.StatusServiceUnavailable, "provider_unavailable"
		}
		return http.StatusBadGateway, "provider_rejected"
	case errors.Is(err, models.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, "provider_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	}
	return http.StatusInternalServerError, "internal_error"
}

// errorMessage is the buyer-facing text for an error
func errorMessage(err error, status int) string {
	var provErr *models.ProviderError
	switch {
	case status == http.StatusInternalServerError:
		return "Something went wrong. Please try again."
	case errors.As(err, &provErr):
		msg := fmt.Sprintf("%s could not process the payment", provErr.Provider)
		if provErr.Message != "" {
			msg += ": " + provErr.Message
		}
		if provErr.IsRetryable() {
			msg += ". Please try again shortly."
		}
		return msg
	}
	return err.Error()
}

// writeError maps err to a JSON error response
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= 500 {
		log.Printf("%s %s failed: %v", r.Method, r.URL.Path, err)
	}
	middleware.WriteError(w, status, code, errorMessage(err, status))
}
