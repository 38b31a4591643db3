package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tikiti/internal/config"
	"tikiti/internal/models"
)

const (
	paypalSandboxURL = "https://api-m.sandbox.paypal.com"
	paypalLiveURL    = "https://api-m.paypal.com"
)

// PayPalAdapter creates PayPal orders the buyer approves and captures them afterwards
type PayPalAdapter struct {
	config  config.PayPalConfig
	baseURL string
	client  *ProviderClient
	tokens  TokenCache
}

// NewPayPalAdapter creates the PayPal adapter
func NewPayPalAdapter(cfg config.PayPalConfig, timeout time.Duration, tokens TokenCache) *PayPalAdapter {
	baseURL := paypalSandboxURL
	if cfg.Mode == "live" {
		baseURL = paypalLiveURL
	}
	return &PayPalAdapter{
		config:  cfg,
		baseURL: baseURL,
		client:  NewProviderClient(models.ProviderPayPal, timeout),
		tokens:  tokens,
	}
}

// Provider returns the provider name
func (a *PayPalAdapter) Provider() models.Provider { return models.ProviderPayPal }

// Flow returns the approval flow
func (a *PayPalAdapter) Flow() models.Flow { return models.FlowApproval }

type paypalTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (a *PayPalAdapter) accessToken(ctx context.Context) (string, error) {
	return cachedToken(ctx, a.tokens, "paypal:"+a.config.ClientID, func(ctx context.Context) (string, time.Duration, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/oauth2/token",
			strings.NewReader(url.Values{"grant_type": {"client_credentials"}}.Encode()))
		if err != nil {
			return "", 0, fmt.Errorf("failed to create paypal token request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(a.config.ClientID+":"+a.config.ClientSecret)))

		body, err := a.client.Do(req, "oauth")
		if err != nil {
			return "", 0, err
		}
		var resp paypalTokenResponse
		if err := decodeProviderJSON(models.ProviderPayPal, "oauth", body, &resp); err != nil {
			return "", 0, err
		}
		return resp.AccessToken, time.Duration(resp.ExpiresIn) * time.Second, nil
	})
}

func (a *PayPalAdapter) authHeader(ctx context.Context) (map[string]string, error) {
	token, err := a.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{"Authorization": "Bearer " + token}, nil
}

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalPurchaseUnit struct {
	ReferenceID string       `json:"reference_id"`
	Amount      paypalAmount `json:"amount"`
	Description string       `json:"description"`
}

type paypalApplicationContext struct {
	BrandName          string `json:"brand_name"`
	ShippingPreference string `json:"shipping_preference"`
	UserAction         string `json:"user_action"`
	ReturnURL          string `json:"return_url,omitempty"`
	CancelURL          string `json:"cancel_url,omitempty"`
}

type paypalCreateOrderRequest struct {
	Intent             string                   `json:"intent"`
	PurchaseUnits      []paypalPurchaseUnit     `json:"purchase_units"`
	ApplicationContext paypalApplicationContext `json:"application_context"`
}

type paypalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type paypalCapture struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Amount paypalAmount `json:"amount"`
}

type paypalOrder struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Links  []paypalLink `json:"links"`
	PurchaseUnits []struct {
		ReferenceID string `json:"reference_id"`
		Payments    struct {
			Captures []paypalCapture `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

// Initiate creates a PayPal order; the reference is the PayPal order id
func (a *PayPalAdapter) Initiate(ctx context.Context, order *models.Order, _ models.Identity) (*models.ProviderHandle, error) {
	headers, err := a.authHeader(ctx)
	if err != nil {
		return nil, err
	}
	payload := paypalCreateOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []paypalPurchaseUnit{{
			ReferenceID: order.ID,
			Amount: paypalAmount{
				CurrencyCode: string(order.Currency),
				Value:        models.FormatAmount(order.GrandTotal, order.Currency),
			},
			Description: "Tikiti Event Ticket",
		}},
		ApplicationContext: paypalApplicationContext{
			BrandName:          "Tikiti",
			ShippingPreference: "NO_SHIPPING",
			UserAction:         "PAY_NOW",
			ReturnURL:          withOrderID(a.config.ReturnURL, order.ID),
			CancelURL:          withOrderID(a.config.CancelURL, order.ID),
		},
	}

	var created paypalOrder
	if err := a.client.DoJSON(ctx, http.MethodPost, a.baseURL+"/v2/checkout/orders", "create_order", headers, payload, &created); err != nil {
		return nil, err
	}
	if created.ID == "" {
		return nil, &models.ProviderError{Provider: models.ProviderPayPal, Operation: "create_order", StatusCode: http.StatusOK, Message: "no order id returned"}
	}

	approve := ""
	for _, l := range created.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			approve = l.Href
			break
		}
	}
	return &models.ProviderHandle{
		Provider:    models.ProviderPayPal,
		Flow:        models.FlowApproval,
		Reference:   created.ID,
		RedirectURL: approve,
		Message:     "Approve the payment in PayPal",
	}, nil
}

// Capture completes an approved PayPal order. Any status other than COMPLETED leaves the order pending.
func (a *PayPalAdapter) Capture(ctx context.Context, providerOrderID string) (models.Signal, error) {
	headers, err := a.authHeader(ctx)
	if err != nil {
		return models.Signal{}, err
	}
	var captured paypalOrder
	err = a.client.DoJSON(ctx, http.MethodPost,
		a.baseURL+"/v2/checkout/orders/"+url.PathEscape(providerOrderID)+"/capture",
		"capture_order", headers, struct{}{}, &captured)
	var perr *models.ProviderError
	if errors.As(err, &perr) && perr.StatusCode == http.StatusUnprocessableEntity {
		// Already captured or not yet approved; the order itself says which
		return a.getOrder(ctx, providerOrderID)
	}
	if err != nil {
		return models.Signal{}, err
	}
	return settled(paypalSignal(providerOrderID, captured))
}

// QueryStatus reads the PayPal order behind the reference
func (a *PayPalAdapter) QueryStatus(ctx context.Context, order *models.Order) (models.Signal, error) {
	if order.ProviderReference == "" {
		return models.Signal{Provider: models.ProviderPayPal, Outcome: models.OutcomePending}, nil
	}
	return a.getOrder(ctx, order.ProviderReference)
}

func (a *PayPalAdapter) getOrder(ctx context.Context, providerOrderID string) (models.Signal, error) {
	headers, err := a.authHeader(ctx)
	if err != nil {
		return models.Signal{}, err
	}
	var current paypalOrder
	if err := a.client.DoJSON(ctx, http.MethodGet, a.baseURL+"/v2/checkout/orders/"+url.PathEscape(providerOrderID),
		"get_order", headers, nil, &current); err != nil {
		return models.Signal{}, err
	}
	return settled(paypalSignal(providerOrderID, current))
}

func paypalSignal(providerOrderID string, o paypalOrder) models.Signal {
	sig := models.Signal{Provider: models.ProviderPayPal, Reference: providerOrderID, Outcome: models.OutcomePending}
	switch o.Status {
	case "COMPLETED":
		sig.Outcome = models.OutcomeSuccess
		sig.ConfirmationID = o.ID
		for _, pu := range o.PurchaseUnits {
			for _, c := range pu.Payments.Captures {
				sig.ConfirmationID = c.ID
				currency := models.Currency(c.Amount.CurrencyCode)
				if value, err := decimal.NewFromString(c.Amount.Value); err == nil && currency.IsSupported() {
					sig.Currency = currency
					sig.Amount += models.ParseAmount(value, currency)
				}
			}
		}
	case "VOIDED":
		sig.Outcome = models.OutcomeFailure
		sig.Reason = "paypal order voided"
	}
	return sig
}

func withOrderID(base, orderID string) string {
	if base == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "orderId=" + url.QueryEscape(orderID)
}
