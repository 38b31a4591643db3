package models

import (
	"regexp"
	"strings"
)

// PaymentMethod is the buyer-facing payment choice at checkout
type PaymentMethod string

const (
	MethodMpesa  PaymentMethod = "mpesa"
	MethodAirtel PaymentMethod = "airtel"
	MethodCard   PaymentMethod = "card"
	MethodPayPal PaymentMethod = "paypal"
	MethodFree   PaymentMethod = "free"
)

// ParsePaymentMethod validates a payment method name
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	m := PaymentMethod(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case MethodMpesa, MethodAirtel, MethodCard, MethodPayPal, MethodFree:
		return m, nil
	}
	return "", NewValidationError("payment_method", "unknown payment method "+s)
}

// RequiresPhone reports whether the method pushes a prompt to the buyer's phone
func (m PaymentMethod) RequiresPhone() bool {
	return m == MethodMpesa || m == MethodAirtel
}

// Provider identifies a payment rail integration
type Provider string

const (
	ProviderMpesa         Provider = "mpesa"
	ProviderFlutterwave   Provider = "flutterwave"
	ProviderPayPal        Provider = "paypal"
	ProviderPaystack      Provider = "paystack"
	ProviderPesapal       Provider = "pesapal"
	ProviderComplimentary Provider = "complimentary"
	ProviderSystem        Provider = "system"
)

// Flow is the shape of a rail's confirmation handshake
type Flow string

const (
	// FlowPush sends a prompt to the buyer's device and confirms asynchronously
	FlowPush Flow = "push"
	// FlowRedirect sends the buyer to a hosted page and confirms by webhook
	FlowRedirect Flow = "redirect"
	// FlowApproval creates a provider order the buyer approves, then captures it
	FlowApproval Flow = "approval"
	// FlowSync completes within the checkout request
	FlowSync Flow = "sync"
)

// ProviderHandle is what a rail returns after a charge is initiated
type ProviderHandle struct {
	Provider    Provider `json:"provider"`
	Flow        Flow     `json:"flow"`
	Reference   string   `json:"reference"`
	RedirectURL string   `json:"redirect_url,omitempty"`
	Message     string   `json:"message,omitempty"`
}

// SignalOutcome is the payment result carried by a provider signal
type SignalOutcome string

const (
	OutcomeSuccess SignalOutcome = "success"
	OutcomeFailure SignalOutcome = "failure"
	OutcomePending SignalOutcome = "pending"
)

// Signal is a verified, provider-agnostic payment confirmation
type Signal struct {
	Provider       Provider      `json:"provider"`
	Reference      string        `json:"reference"`
	Outcome        SignalOutcome `json:"outcome"`
	ConfirmationID string        `json:"confirmation_id,omitempty"`
	Reason         string        `json:"reason,omitempty"`

	// Amount and Currency are the values the provider reports it collected, when it reports them
	Amount   int64    `json:"amount,omitempty"`
	Currency Currency `json:"currency,omitempty"`
}

// IsTerminal reports whether the signal resolves the payment
func (s Signal) IsTerminal() bool {
	return s.Outcome == OutcomeSuccess || s.Outcome == OutcomeFailure
}

var kenyanPhoneRegex = regexp.MustCompile(`^2547\d{8}$|^2541\d{8}$`)
var msisdnRegex = regexp.MustCompile(`^\d{9,15}$`)

// NormalizeMSISDN converts a buyer phone into international digits:
// 0712345678 and +254712345678 both become 254712345678.
func NormalizeMSISDN(phone string) (string, error) {
	p := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(phone))
	p = strings.TrimPrefix(p, "+")
	if strings.HasPrefix(p, "0") {
		p = "254" + p[1:]
	}
	if !msisdnRegex.MatchString(p) {
		return "", &ValidationError{Field: "phone_number", Message: "phone number is invalid", Err: ErrInvalidPhone}
	}
	return p, nil
}

// NormalizeKenyanMSISDN is NormalizeMSISDN restricted to Safaricom-style 2547/2541 numbers
func NormalizeKenyanMSISDN(phone string) (string, error) {
	p, err := NormalizeMSISDN(phone)
	if err != nil {
		return "", err
	}
	if !kenyanPhoneRegex.MatchString(p) {
		return "", &ValidationError{Field: "phone_number", Message: "not a Kenyan mobile number", Err: ErrInvalidPhone}
	}
	return p, nil
}

// SMSRecipient formats a stored phone as +254... for the SMS gateway
func SMSRecipient(phone string) (string, error) {
	p, err := NormalizeMSISDN(phone)
	if err != nil {
		return "", err
	}
	return "+" + p, nil
}
