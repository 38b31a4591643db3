package services

import (
	"context"
	"crypto/subtle"
	"encoding/json"
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

const flutterwaveBaseURL = "https://api.flutterwave.com/v3"

// FlutterwaveAdapter takes card payments through the hosted checkout and Airtel Money through a mobile money charge
type FlutterwaveAdapter struct {
	config  config.FlutterwaveConfig
	baseURL string
	client  *ProviderClient
	now     Clock
}

// NewFlutterwaveAdapter creates the Flutterwave adapter
func NewFlutterwaveAdapter(cfg config.FlutterwaveConfig, timeout time.Duration) *FlutterwaveAdapter {
	return &FlutterwaveAdapter{
		config:  cfg,
		baseURL: flutterwaveBaseURL,
		client:  NewProviderClient(models.ProviderFlutterwave, timeout),
		now:     time.Now,
	}
}

// Provider returns the provider name
func (a *FlutterwaveAdapter) Provider() models.Provider { return models.ProviderFlutterwave }

// Flow returns the redirect flow
func (a *FlutterwaveAdapter) Flow() models.Flow { return models.FlowRedirect }

func (a *FlutterwaveAdapter) authHeader() map[string]string {
	return map[string]string{"Authorization": "Bearer " + a.config.SecretKey}
}

type flutterwaveCustomer struct {
	Email       string `json:"email"`
	PhoneNumber string `json:"phonenumber,omitempty"`
}

type flutterwaveCustomizations struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type flutterwaveChargeRequest struct {
	TxRef          string                    `json:"tx_ref"`
	Amount         json.Number               `json:"amount"`
	Currency       models.Currency           `json:"currency"`
	RedirectURL    string                    `json:"redirect_url"`
	Customer       flutterwaveCustomer       `json:"customer"`
	Meta           map[string]string         `json:"meta"`
	Customizations flutterwaveCustomizations `json:"customizations"`
	PhoneNumber    string                    `json:"phone_number,omitempty"`
	Network        string                    `json:"network,omitempty"`
	Email          string                    `json:"email,omitempty"`
}

type flutterwaveChargeResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Link        string `json:"link"`
		FlwRef      string `json:"flw_ref"`
		RedirectURL string `json:"redirect_url"`
	} `json:"data"`
	Meta struct {
		Authorization struct {
			Redirect string `json:"redirect"`
			Mode     string `json:"mode"`
		} `json:"authorization"`
	} `json:"meta"`
}

// TxRef builds the merchant reference for an order; the timestamp keeps retries unique
func (a *FlutterwaveAdapter) TxRef(order *models.Order) string {
	return fmt.Sprintf("%s-%d", order.AccountReference(), a.now().UnixMilli())
}

// Initiate creates the hosted card checkout or sends the Airtel Money prompt
func (a *FlutterwaveAdapter) Initiate(ctx context.Context, order *models.Order, buyer models.Identity) (*models.ProviderHandle, error) {
	txRef := a.TxRef(order)
	email := order.BuyerEmail
	if email == "" {
		email = buyer.Email
	}
	payload := flutterwaveChargeRequest{
		TxRef:       txRef,
		Amount:      json.Number(models.FormatAmount(order.GrandTotal, order.Currency)),
		Currency:    order.Currency,
		RedirectURL: withOrderID(a.config.RedirectURL, order.ID),
		Customer:    flutterwaveCustomer{Email: email, PhoneNumber: order.PhoneNumber},
		Meta:        map[string]string{"orderId": order.ID, "userId": order.UserID},
		Customizations: flutterwaveCustomizations{
			Title:       "Tikiti Store",
			Description: order.Description(),
		},
	}

	endpoint := a.baseURL + "/payments"
	operation := "create_payment"
	message := "Redirecting to payment page"
	if order.PaymentMethod == models.MethodAirtel {
		if order.PhoneNumber == "" {
			return nil, models.ErrPhoneRequired
		}
		endpoint = a.baseURL + "/charges?type=mobile_money_uganda"
		operation = "mobile_money_charge"
		message = "Check your phone for the Airtel Money prompt"
		payload.PhoneNumber = order.PhoneNumber
		payload.Network = "AIRTEL"
		payload.Email = email
	}

	var resp flutterwaveChargeResponse
	if err := a.client.DoJSON(ctx, http.MethodPost, endpoint, operation, a.authHeader(), payload, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "success" {
		return nil, &models.ProviderError{
			Provider:   models.ProviderFlutterwave,
			Operation:  operation,
			StatusCode: http.StatusOK,
			Message:    resp.Message,
		}
	}

	redirect := resp.Data.Link
	if redirect == "" {
		redirect = resp.Meta.Authorization.Redirect
	}
	if redirect == "" {
		redirect = resp.Data.RedirectURL
	}
	return &models.ProviderHandle{
		Provider:    models.ProviderFlutterwave,
		Flow:        models.FlowRedirect,
		Reference:   txRef,
		RedirectURL: redirect,
		Message:     message,
	}, nil
}

type flutterwaveWebhook struct {
	Event string `json:"event"`
	Data  struct {
		ID     int64  `json:"id"`
		TxRef  string `json:"tx_ref"`
		Status string `json:"status"`
	} `json:"data"`
}

type flutterwaveTransaction struct {
	ID       int64           `json:"id"`
	TxRef    string          `json:"tx_ref"`
	FlwRef   string          `json:"flw_ref"`
	Status   string          `json:"status"`
	Amount   decimal.Decimal `json:"amount"`
	Currency models.Currency `json:"currency"`
	Message  string          `json:"processor_response"`
}

type flutterwaveVerifyResponse struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message"`
	Data    flutterwaveTransaction `json:"data"`
}

// ParseWebhook checks the verif-hash header, then confirms the charge with the verify endpoint.
// Only the verified transaction decides the outcome.
func (a *FlutterwaveAdapter) ParseWebhook(ctx context.Context, r *http.Request) (models.Signal, error) {
	hash := r.Header.Get("verif-hash")
	if a.config.WebhookHash == "" || subtle.ConstantTimeCompare([]byte(hash), []byte(a.config.WebhookHash)) != 1 {
		return models.Signal{}, fmt.Errorf("%w: flutterwave verif-hash mismatch", models.ErrUnverifiableSignal)
	}

	var hook flutterwaveWebhook
	if err := json.NewDecoder(r.Body).Decode(&hook); err != nil {
		return models.Signal{}, fmt.Errorf("%w: invalid flutterwave webhook body: %v", models.ErrUnverifiableSignal, err)
	}
	sig := models.Signal{Provider: models.ProviderFlutterwave, Reference: hook.Data.TxRef, Outcome: models.OutcomePending}
	if hook.Event != "charge.completed" {
		return sig, nil
	}
	if hook.Data.ID == 0 || hook.Data.TxRef == "" {
		return models.Signal{}, fmt.Errorf("%w: flutterwave webhook missing transaction id", models.ErrUnverifiableSignal)
	}

	var verified flutterwaveVerifyResponse
	err := a.client.DoJSON(ctx, http.MethodGet, fmt.Sprintf("%s/transactions/%d/verify", a.baseURL, hook.Data.ID),
		"verify_transaction", a.authHeader(), nil, &verified)
	if err != nil {
		return models.Signal{}, fmt.Errorf("%w: flutterwave verification failed: %v", models.ErrUnverifiableSignal, err)
	}
	if verified.Data.TxRef != hook.Data.TxRef {
		return models.Signal{}, fmt.Errorf("%w: verified tx_ref %q does not match webhook %q",
			models.ErrUnverifiableSignal, verified.Data.TxRef, hook.Data.TxRef)
	}
	return settled(transactionSignal(verified.Data))
}

// QueryStatus looks the order's charge up by its tx_ref
func (a *FlutterwaveAdapter) QueryStatus(ctx context.Context, order *models.Order) (models.Signal, error) {
	sig := models.Signal{Provider: models.ProviderFlutterwave, Reference: order.ProviderReference, Outcome: models.OutcomePending}
	if order.ProviderReference == "" {
		return sig, nil
	}
	var verified flutterwaveVerifyResponse
	err := a.client.DoJSON(ctx, http.MethodGet,
		a.baseURL+"/transactions/verify_by_reference?tx_ref="+url.QueryEscape(order.ProviderReference),
		"verify_by_reference", a.authHeader(), nil, &verified)
	if err != nil {
		var perr *models.ProviderError
		// No charge was ever attempted for this reference
		if errors.As(err, &perr) && perr.StatusCode == http.StatusNotFound {
			return sig, nil
		}
		return sig, err
	}
	return settled(transactionSignal(verified.Data))
}

// transactionSignal maps a verified Flutterwave transaction onto a signal, carrying the collected amount
func transactionSignal(tx flutterwaveTransaction) models.Signal {
	sig := models.Signal{
		Provider:  models.ProviderFlutterwave,
		Reference: tx.TxRef,
		Outcome:   models.OutcomePending,
	}
	switch strings.ToLower(tx.Status) {
	case "successful":
		sig.Outcome = models.OutcomeSuccess
		sig.ConfirmationID = fmt.Sprintf("%d", tx.ID)
		sig.Currency = tx.Currency
		sig.Amount = models.ParseAmount(tx.Amount, tx.Currency)
	case "failed", "cancelled":
		sig.Outcome = models.OutcomeFailure
		sig.Reason = tx.Message
		if sig.Reason == "" {
			sig.Reason = "payment " + strings.ToLower(tx.Status)
		}
	}
	return sig
}
