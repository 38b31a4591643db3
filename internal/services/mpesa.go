package services

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
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

const (
	mpesaSandboxURL    = "https://sandbox.safaricom.co.ke"
	mpesaProductionURL = "https://api.safaricom.co.ke"
)

// MpesaAdapter charges Kenyan buyers with an STK push prompt on their phone
type MpesaAdapter struct {
	config  config.MpesaConfig
	baseURL string
	client  *ProviderClient
	tokens  TokenCache
	loc     *time.Location
	now     Clock
}

// NewMpesaAdapter creates the M-Pesa Daraja adapter
func NewMpesaAdapter(cfg config.MpesaConfig, timeout time.Duration, tokens TokenCache) *MpesaAdapter {
	baseURL := mpesaSandboxURL
	if cfg.Environment == "production" {
		baseURL = mpesaProductionURL
	}
	loc, err := time.LoadLocation("Africa/Nairobi")
	if err != nil {
		loc = time.FixedZone("EAT", 3*60*60)
	}
	client := NewProviderClient(models.ProviderMpesa, timeout)
	client.stillProcessing = func(status int, message string) bool {
		return status == http.StatusInternalServerError && strings.Contains(message, "being processed")
	}
	return &MpesaAdapter{
		config:  cfg,
		baseURL: baseURL,
		client:  client,
		tokens:  tokens,
		loc:     loc,
		now:     time.Now,
	}
}

// Provider returns the provider name
func (a *MpesaAdapter) Provider() models.Provider { return models.ProviderMpesa }

// Flow returns the push flow
func (a *MpesaAdapter) Flow() models.Flow { return models.FlowPush }

type mpesaTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

func (a *MpesaAdapter) accessToken(ctx context.Context) (string, error) {
	return cachedToken(ctx, a.tokens, "mpesa:"+a.config.ConsumerKey, func(ctx context.Context) (string, time.Duration, error) {
		credentials := base64.StdEncoding.EncodeToString([]byte(a.config.ConsumerKey + ":" + a.config.ConsumerSecret))
		var resp mpesaTokenResponse
		err := a.client.DoJSON(ctx, http.MethodGet, a.baseURL+"/oauth/v1/generate?grant_type=client_credentials", "oauth",
			map[string]string{"Authorization": "Basic " + credentials}, nil, &resp)
		if err != nil {
			return "", 0, err
		}
		seconds, _ := decimal.NewFromString(resp.ExpiresIn)
		return resp.AccessToken, time.Duration(seconds.IntPart()) * time.Second, nil
	})
}

// timestamp returns the YYYYMMDDHHmmss timestamp Daraja expects, in Nairobi time
func (a *MpesaAdapter) timestamp() string {
	return a.now().In(a.loc).Format("20060102150405")
}

func (a *MpesaAdapter) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(a.config.Shortcode + a.config.Passkey + timestamp))
}

// callbackURL appends the shared callback token so callbacks can be authenticated
func (a *MpesaAdapter) callbackURL() string {
	if a.config.CallbackToken == "" {
		return a.config.CallbackURL
	}
	u, err := url.Parse(a.config.CallbackURL)
	if err != nil {
		return a.config.CallbackURL
	}
	q := u.Query()
	q.Set("token", a.config.CallbackToken)
	u.RawQuery = q.Encode()
	return u.String()
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// Initiate sends the STK push prompt; the reference is the CheckoutRequestID
func (a *MpesaAdapter) Initiate(ctx context.Context, order *models.Order, _ models.Identity) (*models.ProviderHandle, error) {
	if order.Currency != models.CurrencyKES {
		return nil, fmt.Errorf("%w: M-Pesa only accepts KES", models.ErrMethodNotOffered)
	}
	if order.PhoneNumber == "" {
		return nil, models.ErrPhoneRequired
	}
	token, err := a.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	ts := a.timestamp()
	payload := stkPushRequest{
		BusinessShortCode: a.config.Shortcode,
		Password:          a.password(ts),
		Timestamp:         ts,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            order.GrandTotal,
		PartyA:            order.PhoneNumber,
		PartyB:            a.config.Shortcode,
		PhoneNumber:       order.PhoneNumber,
		CallBackURL:       a.callbackURL(),
		AccountReference:  order.AccountReference(),
		TransactionDesc:   "Tikiti Event Ticket",
	}
	var resp stkPushResponse
	if err := a.client.DoJSON(ctx, http.MethodPost, a.baseURL+"/mpesa/stkpush/v1/processrequest", "stk_push",
		map[string]string{"Authorization": "Bearer " + token}, payload, &resp); err != nil {
		return nil, err
	}
	if resp.ResponseCode != "0" || resp.CheckoutRequestID == "" {
		return nil, &models.ProviderError{
			Provider:   models.ProviderMpesa,
			Operation:  "stk_push",
			StatusCode: http.StatusOK,
			Message:    resp.ResponseDescription,
		}
	}

	message := resp.CustomerMessage
	if message == "" {
		message = "Check your phone and enter your M-Pesa PIN"
	}
	return &models.ProviderHandle{
		Provider:  models.ProviderMpesa,
		Flow:      models.FlowPush,
		Reference: resp.CheckoutRequestID,
		Message:   message,
	}, nil
}

type mpesaCallback struct {
	Body struct {
		StkCallback *struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []mpesaMetadataItem `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

type mpesaMetadataItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value"`
}

// ParseWebhook authenticates an STK callback by its URL token and normalizes the result.
// Successful callbacks are confirmed with an STK status query before they are trusted.
func (a *MpesaAdapter) ParseWebhook(ctx context.Context, r *http.Request) (models.Signal, error) {
	if !a.validCallbackToken(r.URL.Query().Get("token")) {
		return models.Signal{}, fmt.Errorf("%w: mpesa callback token mismatch", models.ErrUnverifiableSignal)
	}

	var cb mpesaCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		return models.Signal{}, fmt.Errorf("%w: invalid mpesa callback body: %v", models.ErrUnverifiableSignal, err)
	}
	stk := cb.Body.StkCallback
	if stk == nil || stk.CheckoutRequestID == "" {
		return models.Signal{}, fmt.Errorf("%w: mpesa callback has no stkCallback", models.ErrUnverifiableSignal)
	}

	sig := models.Signal{Provider: models.ProviderMpesa, Reference: stk.CheckoutRequestID}
	if stk.ResultCode != 0 {
		sig.Outcome = models.OutcomeFailure
		sig.Reason = stk.ResultDesc
		return sig, nil
	}

	sig.Outcome = models.OutcomeSuccess
	if stk.CallbackMetadata != nil {
		for _, item := range stk.CallbackMetadata.Item {
			switch item.Name {
			case "MpesaReceiptNumber":
				sig.ConfirmationID = strings.Trim(string(item.Value), `"`)
			case "Amount":
				if amount, err := decimal.NewFromString(strings.Trim(string(item.Value), `"`)); err == nil {
					sig.Amount = models.ParseAmount(amount, models.CurrencyKES)
					sig.Currency = models.CurrencyKES
				}
			}
		}
	}

	confirmed, err := a.queryCheckout(ctx, stk.CheckoutRequestID)
	if err != nil {
		return models.Signal{}, fmt.Errorf("%w: mpesa status query failed: %v", models.ErrUnverifiableSignal, err)
	}
	if confirmed.Outcome != models.OutcomeSuccess {
		return models.Signal{}, fmt.Errorf("%w: mpesa reports %s for %s", models.ErrUnverifiableSignal, confirmed.Outcome, stk.CheckoutRequestID)
	}
	return sig, nil
}

func (a *MpesaAdapter) validCallbackToken(got string) bool {
	if a.config.CallbackToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(a.config.CallbackToken)) == 1
}

type stkQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type stkQueryResponse struct {
	ResponseCode      string `json:"ResponseCode"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        string `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
}

// QueryStatus asks Daraja for the result of the order's STK push
func (a *MpesaAdapter) QueryStatus(ctx context.Context, order *models.Order) (models.Signal, error) {
	if order.ProviderReference == "" {
		return models.Signal{Provider: models.ProviderMpesa, Outcome: models.OutcomePending}, nil
	}
	return a.queryCheckout(ctx, order.ProviderReference)
}

func (a *MpesaAdapter) queryCheckout(ctx context.Context, checkoutRequestID string) (models.Signal, error) {
	sig := models.Signal{Provider: models.ProviderMpesa, Reference: checkoutRequestID, Outcome: models.OutcomePending}

	token, err := a.accessToken(ctx)
	if err != nil {
		return sig, err
	}
	ts := a.timestamp()
	payload := stkQueryRequest{
		BusinessShortCode: a.config.Shortcode,
		Password:          a.password(ts),
		Timestamp:         ts,
		CheckoutRequestID: checkoutRequestID,
	}
	var resp stkQueryResponse
	err = a.client.DoJSON(ctx, http.MethodPost, a.baseURL+"/mpesa/stkpushquery/v1/query", "stk_query",
		map[string]string{"Authorization": "Bearer " + token}, payload, &resp)
	if errors.Is(err, errStillProcessing) {
		return sig, nil
	}
	if err != nil {
		return sig, err
	}

	switch resp.ResultCode {
	case "":
		// accepted for processing but no result yet
	case "0":
		sig.Outcome = models.OutcomeSuccess
	default:
		sig.Outcome = models.OutcomeFailure
		sig.Reason = resp.ResultDesc
	}
	return sig, nil
}
