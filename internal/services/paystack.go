package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"tikiti/internal/config"
	"tikiti/internal/models"
)

// PaystackAdapter takes card payments through the Paystack hosted checkout
type PaystackAdapter struct {
	config  config.PaystackConfig
	client  *ProviderClient
	baseURL string
	now     Clock
}

// NewPaystackAdapter creates a new Paystack adapter
func NewPaystackAdapter(cfg config.PaystackConfig, timeout time.Duration) *PaystackAdapter {
	return &PaystackAdapter{
		config:  cfg,
		client:  NewProviderClient(models.ProviderPaystack, timeout),
		baseURL: "https://api.paystack.co",
		now:     time.Now,
	}
}

// Provider returns the provider name
func (a *PaystackAdapter) Provider() models.Provider { return models.ProviderPaystack }

// Flow returns the redirect flow
func (a *PaystackAdapter) Flow() models.Flow { return models.FlowRedirect }

// TransactionRequest represents a payment initialization request
type TransactionRequest struct {
	Email       string            `json:"email"`
	Amount      int64             `json:"amount"`    // in subunits (cents)
	Currency    string            `json:"currency"`  // KES, NGN, GHS, ZAR, USD
	Reference   string            `json:"reference"` // unique transaction reference
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata"`
	Channels    []string          `json:"channels"`
}

// TransactionResponse represents the response from transaction initialization
type TransactionResponse struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    TransactionData `json:"data"`
}

// TransactionData contains the transaction initialization data
type TransactionData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// TransactionVerification represents transaction verification response
type TransactionVerification struct {
	Status  bool               `json:"status"`
	Message string             `json:"message"`
	Data    TransactionDetails `json:"data"`
}

// TransactionDetails contains the verified transaction fields the reconciler needs
type TransactionDetails struct {
	ID              int64  `json:"id"`
	Status          string `json:"status"`
	Reference       string `json:"reference"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	PaidAt          string `json:"paid_at"`
	Channel         string `json:"channel"`
	GatewayResponse string `json:"gateway_response"`
}

// subunits converts display units into the smallest unit Paystack expects (always 1/100)
func subunits(amount int64, c models.Currency) int64 {
	for d := c.Decimals(); d < 2; d++ {
		amount *= 100
	}
	return amount
}

// fromSubunits is the inverse of subunits
func fromSubunits(amount int64, c models.Currency) int64 {
	for d := c.Decimals(); d < 2; d++ {
		amount /= 100
	}
	return amount
}

// generateReference generates a unique transaction reference for an order
func (a *PaystackAdapter) generateReference(order *models.Order) string {
	now := a.now()
	return fmt.Sprintf("%s-%d-%d", order.AccountReference(), now.Unix(), now.Nanosecond()%1000000)
}

// Initiate initializes a Paystack transaction and returns its checkout URL
func (a *PaystackAdapter) Initiate(ctx context.Context, order *models.Order, buyer models.Identity) (*models.ProviderHandle, error) {
	email := order.BuyerEmail
	if email == "" {
		email = buyer.Email
	}
	if email == "" {
		return nil, models.NewValidationError("email", "email is required for card payments")
	}

	req := &TransactionRequest{
		Email:       email,
		Amount:      subunits(order.GrandTotal, order.Currency),
		Currency:    string(order.Currency),
		Reference:   a.generateReference(order),
		CallbackURL: withOrderID(a.config.CallbackURL, order.ID),
		Metadata:    map[string]string{"order_id": order.ID, "user_id": order.UserID},
		Channels:    []string{"card"},
	}

	var resp TransactionResponse
	if err := a.client.DoJSON(ctx, http.MethodPost, a.baseURL+"/transaction/initialize", "initialize_transaction",
		a.authHeader(), req, &resp); err != nil {
		return nil, err
	}
	if !resp.Status {
		return nil, &models.ProviderError{Provider: models.ProviderPaystack, Operation: "initialize_transaction", StatusCode: http.StatusOK, Message: resp.Message}
	}

	return &models.ProviderHandle{
		Provider:    models.ProviderPaystack,
		Flow:        models.FlowRedirect,
		Reference:   req.Reference,
		RedirectURL: resp.Data.AuthorizationURL,
		Message:     "Redirecting to payment page",
	}, nil
}

func (a *PaystackAdapter) authHeader() map[string]string {
	return map[string]string{"Authorization": "Bearer " + a.config.SecretKey}
}

// VerifyTransaction verifies a transaction with Paystack
func (a *PaystackAdapter) VerifyTransaction(ctx context.Context, reference string) (*TransactionVerification, error) {
	var verification TransactionVerification
	if err := a.client.DoJSON(ctx, http.MethodGet, a.baseURL+"/transaction/verify/"+url.PathEscape(reference),
		"verify_transaction", a.authHeader(), nil, &verification); err != nil {
		return nil, err
	}
	if !verification.Status {
		return nil, &models.ProviderError{Provider: models.ProviderPaystack, Operation: "verify_transaction", StatusCode: http.StatusOK, Message: verification.Message}
	}
	return &verification, nil
}

// VerifyWebhookSignature verifies Paystack webhook signature
func (a *PaystackAdapter) VerifyWebhookSignature(payload []byte, signature string) bool {
	if a.config.SecretKey == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(a.config.SecretKey))
	mac.Write(payload)
	expectedSignature := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expectedSignature))
}

type paystackWebhook struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
	} `json:"data"`
}

// ParseWebhook checks the x-paystack-signature HMAC and re-verifies the transaction
func (a *PaystackAdapter) ParseWebhook(ctx context.Context, r *http.Request) (models.Signal, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return models.Signal{}, fmt.Errorf("%w: failed to read paystack webhook: %v", models.ErrUnverifiableSignal, err)
	}
	if !a.VerifyWebhookSignature(body, r.Header.Get("x-paystack-signature")) {
		return models.Signal{}, fmt.Errorf("%w: paystack signature mismatch", models.ErrUnverifiableSignal)
	}

	var hook paystackWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return models.Signal{}, fmt.Errorf("%w: invalid paystack webhook body: %v", models.ErrUnverifiableSignal, err)
	}
	sig := models.Signal{Provider: models.ProviderPaystack, Reference: hook.Data.Reference, Outcome: models.OutcomePending}
	if hook.Event != "charge.success" || hook.Data.Reference == "" {
		return sig, nil
	}

	verification, err := a.VerifyTransaction(ctx, hook.Data.Reference)
	if err != nil {
		return models.Signal{}, fmt.Errorf("%w: paystack verification failed: %v", models.ErrUnverifiableSignal, err)
	}
	return settled(paystackSignal(verification.Data))
}

// QueryStatus verifies the order's transaction reference
func (a *PaystackAdapter) QueryStatus(ctx context.Context, order *models.Order) (models.Signal, error) {
	if order.ProviderReference == "" {
		return models.Signal{Provider: models.ProviderPaystack, Outcome: models.OutcomePending}, nil
	}
	verification, err := a.VerifyTransaction(ctx, order.ProviderReference)
	if err != nil {
		return models.Signal{Provider: models.ProviderPaystack, Reference: order.ProviderReference, Outcome: models.OutcomePending}, err
	}
	return settled(paystackSignal(verification.Data))
}

// paystackSignal maps Paystack transaction statuses onto signal outcomes
func paystackSignal(tx TransactionDetails) models.Signal {
	sig := models.Signal{Provider: models.ProviderPaystack, Reference: tx.Reference, Outcome: models.OutcomePending}
	switch tx.Status {
	case "success":
		currency := models.Currency(tx.Currency)
		sig.Outcome = models.OutcomeSuccess
		sig.ConfirmationID = fmt.Sprintf("%d", tx.ID)
		sig.Currency = currency
		sig.Amount = fromSubunits(tx.Amount, currency)
	case "failed", "abandoned", "reversed":
		sig.Outcome = models.OutcomeFailure
		sig.Reason = tx.GatewayResponse
		if sig.Reason == "" {
			sig.Reason = "payment " + tx.Status
		}
	}
	return sig
}
