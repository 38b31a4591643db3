package models

import (
	"errors"
	"fmt"
)

// Common errors used throughout the application
var (
	ErrEventNotFound      = errors.New("event not found")
	ErrTicketTypeNotFound = errors.New("ticket type not found")
	ErrOrderNotFound      = errors.New("order not found")
	ErrTicketNotFound     = errors.New("ticket not found")
	ErrPayoutNotFound     = errors.New("payout not found")
	ErrCartLineNotFound   = errors.New("cart line not found")
	ErrUnauthorized       = errors.New("unauthorized access")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidInput       = errors.New("invalid input")

	ErrVirtualNotSupported   = errors.New("virtual tickets are not available for this event")
	ErrInsufficientInventory = errors.New("insufficient ticket inventory")
	ErrCurrencyMismatch      = errors.New("cart already holds tickets in a different currency")
	ErrUnsupportedCurrency   = errors.New("unsupported currency")
	ErrEmptyCart             = errors.New("cart is empty")
	ErrPhoneRequired         = errors.New("phone number is required for this payment method")
	ErrInvalidPhone          = errors.New("phone number is invalid")
	ErrMethodNotOffered      = errors.New("payment method not offered for this currency")

	ErrOrderNotPending     = errors.New("order is not pending")
	ErrOrderNotCompleted   = errors.New("order payment is not completed")
	ErrAlreadyTerminal     = errors.New("order already reached a terminal status")
	ErrReferenceMismatch   = errors.New("provider reference does not match order")
	ErrAmountMismatch      = errors.New("provider amount does not match order")
	ErrUnverifiableSignal  = errors.New("payment signal could not be verified")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrPollTimeout         = errors.New("timed out waiting for payment confirmation")
	ErrPayoutAlreadyPaid   = errors.New("payout already marked paid")
	ErrPayoutProcessed     = errors.New("order payouts already recorded")
	ErrStatementNotFound   = errors.New("payout statement not found")
	ErrInvalidQRCode       = errors.New("invalid ticket QR code")
	ErrAlreadyCheckedIn    = errors.New("ticket already checked in")
	ErrWrongEvent          = errors.New("ticket is for a different event")
	ErrVirtualTicketEntry  = errors.New("virtual ticket is not valid for entry")
	ErrTicketNotActive     = errors.New("ticket is not active")
	ErrNoRecipients        = errors.New("no ticket holders with a phone number")
)

// ValidationError reports bad input rejected before any external call
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap matches ErrInvalidInput and the more specific cause, if any
func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Err, ErrInvalidInput}
	}
	return []error{ErrInvalidInput}
}

// NewValidationError creates a validation error for a field
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// InventoryError reports a request for more tickets than remain
type InventoryError struct {
	TicketTypeID string
	Requested    int
	Remaining    int
}

func (e *InventoryError) Error() string {
	if e.Remaining <= 0 {
		return "sold out"
	}
	return fmt.Sprintf("only %d left", e.Remaining)
}

func (e *InventoryError) Unwrap() error {
	return ErrInsufficientInventory
}

// ProviderError reports a failed call to a payment rail
type ProviderError struct {
	Provider   Provider
	Operation  string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s %s failed", e.Provider, e.Operation)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Message != "" {
		msg = msg + ": " + e.Message
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrProviderUnavailable
}

// IsRetryable reports whether the buyer may retry the payment
func (e *ProviderError) IsRetryable() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500 || e.StatusCode == 429
}
