package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tikiti/internal/config"
	"tikiti/internal/models"
)

// pesapalTokenLifetime is how long a Pesapal bearer token stays valid
const pesapalTokenLifetime = 5 * time.Minute

// PesapalAdapter takes card and mobile money payments through the Pesapal hosted page
type PesapalAdapter struct {
	config  config.PesapalConfig
	client  *ProviderClient
	tokens  TokenCache
	baseURL string
	now     Clock
}

// NewPesapalAdapter creates a new Pesapal adapter
func NewPesapalAdapter(cfg config.PesapalConfig, timeout time.Duration, tokens TokenCache) *PesapalAdapter {
	baseURL := "https://pay.pesapal.com/v3"
	if cfg.Environment == "sandbox" {
		baseURL = "https://cybqa.pesapal.com/pesapalv3"
	}

	return &PesapalAdapter{
		config:  cfg,
		client:  NewProviderClient(models.ProviderPesapal, timeout),
		tokens:  tokens,
		baseURL: baseURL,
		now:     time.Now,
	}
}

// Provider returns the provider name
func (a *PesapalAdapter) Provider() models.Provider { return models.ProviderPesapal }

// Flow returns the redirect flow
func (a *PesapalAdapter) Flow() models.Flow { return models.FlowRedirect }

// PesapalAuthRequest represents authentication request
type PesapalAuthRequest struct {
	ConsumerKey    string `json:"consumer_key"`
	ConsumerSecret string `json:"consumer_secret"`
}

// PesapalAuthResponse represents authentication response
type PesapalAuthResponse struct {
	Token   string      `json:"token"`
	Error   interface{} `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// PesapalSubmitOrderRequest represents order submission request
type PesapalSubmitOrderRequest struct {
	ID             string                `json:"id"`
	Currency       string                `json:"currency"`
	Amount         json.Number           `json:"amount"`
	Description    string                `json:"description"`
	CallbackURL    string                `json:"callback_url"`
	NotificationID string                `json:"notification_id"`
	BillingAddress PesapalBillingAddress `json:"billing_address"`
}

// PesapalBillingAddress represents billing address
type PesapalBillingAddress struct {
	EmailAddress string `json:"email_address"`
	PhoneNumber  string `json:"phone_number,omitempty"`
	CountryCode  string `json:"country_code,omitempty"`
}

// PesapalSubmitOrderResponse represents order submission response
type PesapalSubmitOrderResponse struct {
	OrderTrackingID   string      `json:"order_tracking_id"`
	MerchantReference string      `json:"merchant_reference"`
	RedirectURL       string      `json:"redirect_url"`
	Error             interface{} `json:"error,omitempty"`
	Message           string      `json:"message,omitempty"`
}

// PesapalTransactionStatusResponse represents transaction status response
type PesapalTransactionStatusResponse struct {
	PaymentMethod            string          `json:"payment_method"`
	Amount                   decimal.Decimal `json:"amount"`
	ConfirmationCode         string          `json:"confirmation_code"`
	PaymentStatusDescription string          `json:"payment_status_description"`
	Description              string          `json:"description"`
	MerchantReference        string          `json:"merchant_reference"`
	StatusCode               int             `json:"status_code"`
	Currency                 string          `json:"currency"`
	Error                    interface{}     `json:"error,omitempty"`
	Message                  string          `json:"message,omitempty"`
}

// PesapalIPN represents Instant Payment Notification
type PesapalIPN struct {
	OrderTrackingID        string `json:"OrderTrackingId"`
	OrderMerchantReference string `json:"OrderMerchantReference"`
	OrderNotificationType  string `json:"OrderNotificationType"`
}

// ReadPesapalIPN reads an IPN from the query string (GET IPNs) or the JSON body (POST IPNs)
func ReadPesapalIPN(r *http.Request) (PesapalIPN, error) {
	q := r.URL.Query()
	ipn := PesapalIPN{
		OrderTrackingID:        q.Get("OrderTrackingId"),
		OrderMerchantReference: q.Get("OrderMerchantReference"),
		OrderNotificationType:  q.Get("OrderNotificationType"),
	}
	if ipn.OrderTrackingID == "" && r.Body != nil {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return ipn, fmt.Errorf("failed to read IPN body: %w", err)
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &ipn); err != nil {
				return ipn, fmt.Errorf("invalid IPN body: %w", err)
			}
		}
	}
	if ipn.OrderTrackingID == "" {
		return ipn, fmt.Errorf("invalid IPN: missing order tracking ID")
	}
	return ipn, nil
}

// pesapalError flattens the error field Pesapal returns in an otherwise 200 reply
func pesapalError(errField interface{}, message string) string {
	errorMsg := "unknown error"
	if errorMap, ok := errField.(map[string]interface{}); ok {
		if code, exists := errorMap["code"]; exists {
			errorMsg = fmt.Sprintf("%v", code)
		}
		if msg, exists := errorMap["message"]; exists && msg != "" {
			errorMsg = fmt.Sprintf("%s - %v", errorMsg, msg)
		}
	} else if errStr, ok := errField.(string); ok && errStr != "" {
		errorMsg = errStr
	} else if message != "" {
		errorMsg = message
	}
	return errorMsg
}

// authenticate gets a bearer token from Pesapal, reusing a cached one while it is valid
func (a *PesapalAdapter) authenticate(ctx context.Context) (string, error) {
	return cachedToken(ctx, a.tokens, "pesapal:"+a.config.ConsumerKey, func(ctx context.Context) (string, time.Duration, error) {
		var authResponse PesapalAuthResponse
		err := a.client.DoJSON(ctx, http.MethodPost, a.baseURL+"/api/Auth/RequestToken", "request_token", nil,
			PesapalAuthRequest{ConsumerKey: a.config.ConsumerKey, ConsumerSecret: a.config.ConsumerSecret}, &authResponse)
		if err != nil {
			return "", 0, err
		}
		if authResponse.Error != nil {
			return "", 0, &models.ProviderError{Provider: models.ProviderPesapal, Operation: "request_token", StatusCode: http.StatusUnauthorized,
				Message: pesapalError(authResponse.Error, authResponse.Message)}
		}
		return authResponse.Token, pesapalTokenLifetime, nil
	})
}

// Initiate submits the order to Pesapal; the reference is the order tracking ID
func (a *PesapalAdapter) Initiate(ctx context.Context, order *models.Order, buyer models.Identity) (*models.ProviderHandle, error) {
	token, err := a.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	email := order.BuyerEmail
	if email == "" {
		email = buyer.Email
	}
	orderRequest := PesapalSubmitOrderRequest{
		ID:             fmt.Sprintf("%s-%d", order.AccountReference(), a.now().Unix()),
		Currency:       string(order.Currency),
		Amount:         json.Number(models.FormatAmount(order.GrandTotal, order.Currency)),
		Description:    "Tikiti " + order.Description(),
		CallbackURL:    withOrderID(a.config.CallbackURL, order.ID),
		NotificationID: a.config.IPNID,
		BillingAddress: PesapalBillingAddress{
			EmailAddress: email,
			PhoneNumber:  order.PhoneNumber,
		},
	}

	var orderResponse PesapalSubmitOrderResponse
	if err := a.client.DoJSON(ctx, http.MethodPost, a.baseURL+"/api/Transactions/SubmitOrderRequest", "submit_order",
		map[string]string{"Authorization": "Bearer " + token}, orderRequest, &orderResponse); err != nil {
		return nil, err
	}
	if orderResponse.Error != nil || orderResponse.OrderTrackingID == "" {
		return nil, &models.ProviderError{Provider: models.ProviderPesapal, Operation: "submit_order", StatusCode: http.StatusOK,
			Message: pesapalError(orderResponse.Error, orderResponse.Message)}
	}

	return &models.ProviderHandle{
		Provider:    models.ProviderPesapal,
		Flow:        models.FlowRedirect,
		Reference:   orderResponse.OrderTrackingID,
		RedirectURL: orderResponse.RedirectURL,
		Message:     "Redirecting to payment page",
	}, nil
}

// getTransactionStatus gets the status of a transaction
func (a *PesapalAdapter) getTransactionStatus(ctx context.Context, orderTrackingID string) (*PesapalTransactionStatusResponse, error) {
	token, err := a.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	var statusResponse PesapalTransactionStatusResponse
	if err := a.client.DoJSON(ctx, http.MethodGet,
		a.baseURL+"/api/Transactions/GetTransactionStatus?orderTrackingId="+url.QueryEscape(orderTrackingID),
		"transaction_status", map[string]string{"Authorization": "Bearer " + token}, nil, &statusResponse); err != nil {
		return nil, err
	}
	if statusResponse.Error != nil && statusResponse.StatusCode == 0 && statusResponse.MerchantReference == "" {
		return nil, &models.ProviderError{Provider: models.ProviderPesapal, Operation: "transaction_status", StatusCode: http.StatusOK,
			Message: pesapalError(statusResponse.Error, statusResponse.Message)}
	}
	return &statusResponse, nil
}

// HandleIPN turns an IPN into a signal. IPNs are unsigned, so only the status query decides the outcome.
func (a *PesapalAdapter) HandleIPN(ctx context.Context, ipn PesapalIPN) (models.Signal, error) {
	status, err := a.getTransactionStatus(ctx, ipn.OrderTrackingID)
	if err != nil {
		return models.Signal{}, fmt.Errorf("%w: pesapal status query failed: %v", models.ErrUnverifiableSignal, err)
	}
	if ipn.OrderMerchantReference != "" && status.MerchantReference != "" &&
		!strings.EqualFold(ipn.OrderMerchantReference, status.MerchantReference) {
		return models.Signal{}, fmt.Errorf("%w: pesapal merchant reference %q does not match %q",
			models.ErrUnverifiableSignal, ipn.OrderMerchantReference, status.MerchantReference)
	}
	return settled(pesapalSignal(ipn.OrderTrackingID, status))
}

// ParseWebhook reads the IPN and confirms it with the transaction status endpoint
func (a *PesapalAdapter) ParseWebhook(ctx context.Context, r *http.Request) (models.Signal, error) {
	ipn, err := ReadPesapalIPN(r)
	if err != nil {
		return models.Signal{}, fmt.Errorf("%w: %v", models.ErrUnverifiableSignal, err)
	}
	return a.HandleIPN(ctx, ipn)
}

// QueryStatus gets the status of the order's Pesapal transaction
func (a *PesapalAdapter) QueryStatus(ctx context.Context, order *models.Order) (models.Signal, error) {
	if order.ProviderReference == "" {
		return models.Signal{Provider: models.ProviderPesapal, Outcome: models.OutcomePending}, nil
	}
	status, err := a.getTransactionStatus(ctx, order.ProviderReference)
	if err != nil {
		return models.Signal{Provider: models.ProviderPesapal, Reference: order.ProviderReference, Outcome: models.OutcomePending}, err
	}
	return settled(pesapalSignal(order.ProviderReference, status))
}

// pesapalSignal maps Pesapal status codes: 1 completed, 2 failed, 3 reversed, anything else pending
func pesapalSignal(trackingID string, status *PesapalTransactionStatusResponse) models.Signal {
	sig := models.Signal{Provider: models.ProviderPesapal, Reference: trackingID, Outcome: models.OutcomePending}
	switch status.StatusCode {
	case 1:
		currency := models.Currency(strings.ToUpper(status.Currency))
		sig.Outcome = models.OutcomeSuccess
		sig.ConfirmationID = status.ConfirmationCode
		sig.Currency = currency
		sig.Amount = models.ParseAmount(status.Amount, currency)
	case 2, 3:
		sig.Outcome = models.OutcomeFailure
		sig.Reason = status.Description
		if sig.Reason == "" {
			sig.Reason = strings.ToLower(status.PaymentStatusDescription)
		}
	}
	return sig
}
