package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"tikiti/internal/models"
	"tikiti/internal/services"
)

// maxWebhookBytes bounds provider callback bodies
const maxWebhookBytes = 256 << 10

// PaymentHandler receives provider callbacks and serves payment status to buyers
type PaymentHandler struct {
	registry   *services.Registry
	reconciler *services.Reconciler
	orders     services.OrderStore
	poller     *services.Poller
	metrics    *services.Metrics
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(registry *services.Registry, reconciler *services.Reconciler, orders services.OrderStore, poller *services.Poller, metrics *services.Metrics) *PaymentHandler {
	return &PaymentHandler{
		registry:   registry,
		reconciler: reconciler,
		orders:     orders,
		poller:     poller,
		metrics:    metrics,
	}
}

// receive verifies a callback and applies it. It never fails the request: providers
// retry on non-2xx, and an unverified callback must not change state anyway.
func (h *PaymentHandler) receive(ctx context.Context, provider models.Provider, r *http.Request) {
	h.metrics.WebhookReceived(provider)

	verifier, ok := h.registry.Verifier(provider)
	if !ok {
		log.Printf("Webhook for unconfigured provider %s ignored", provider)
		return
	}

	sig, err := verifier.ParseWebhook(ctx, r)
	if err != nil {
		h.metrics.SignalRejected(provider, err)
		log.Printf("Rejected %s webhook: %v", provider, err)
		return
	}
	if !sig.IsTerminal() {
		log.Printf("%s webhook for %s is not final (%s), waiting", provider, sig.Reference, sig.Outcome)
		return
	}

	result, err := h.reconciler.Apply(ctx, sig)
	if err != nil {
		if errors.Is(err, models.ErrOrderNotFound) {
			h.metrics.SignalRejected(provider, err)
		}
		log.Printf("Failed to apply %s webhook for %s: %v", provider, sig.Reference, err)
		return
	}
	if result.Applied {
		log.Printf("%s webhook resolved order %s as %s", provider, result.OrderID, result.Status)
	}
}

// MpesaCallback handles Daraja STK push results
func (h *PaymentHandler) MpesaCallback(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBytes)
	h.receive(r.Context(), models.ProviderMpesa, r)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ResultCode": 0,
		"ResultDesc": "Accepted",
	})
}

// FlutterwaveWebhook handles Flutterwave charge events
func (h *PaymentHandler) FlutterwaveWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBytes)
	h.receive(r.Context(), models.ProviderFlutterwave, r)

	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

// PaystackWebhook handles Paystack charge events
func (h *PaymentHandler) PaystackWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBytes)
	h.receive(r.Context(), models.ProviderPaystack, r)

	w.WriteHeader(http.StatusOK)
}

// PesapalIPN handles Pesapal instant payment notifications. Pesapal expects the
// notification echoed back, so the body is buffered for both the ack and the verifier.
func (h *PaymentHandler) PesapalIPN(w http.ResponseWriter, r *http.Request) {
	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
		if err != nil {
			log.Printf("Payment IPN: failed to read body: %v", err)
		}
	}

	r.Body = io.NopCloser(bytes.NewReader(body))
	ipn, ipnErr := services.ReadPesapalIPN(r)

	r.Body = io.NopCloser(bytes.NewReader(body))
	h.receive(r.Context(), models.ProviderPesapal, r)

	status := http.StatusOK
	if ipnErr != nil {
		status = http.StatusInternalServerError
	}
	notificationType := ipn.OrderNotificationType
	if notificationType == "" {
		notificationType = "IPNCHANGE"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"orderNotificationType":  notificationType,
		"orderTrackingId":        ipn.OrderTrackingID,
		"orderMerchantReference": ipn.OrderMerchantReference,
		"status":                 status,
	})
}

// buyerOrder loads an order owned by the caller; other buyers' orders do not exist for them
func (h *PaymentHandler) buyerOrder(r *http.Request, buyer models.Identity) (*models.Order, error) {
	orderID, err := uuidParam(r, "id", models.ErrOrderNotFound)
	if err != nil {
		return nil, err
	}
	order, err := h.orders.GetByID(r.Context(), orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != buyer.UserID {
		return nil, models.ErrOrderNotFound
	}
	return order, nil
}

// Capture completes an approved two-phase payment
func (h *PaymentHandler) Capture(w http.ResponseWriter, r *http.Request) {
	buyer, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	order, err := h.buyerOrder(r, buyer)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req models.CaptureRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	capturer, ok := h.registry.Capturer(order.Provider)
	if !ok {
		writeError(w, r, models.NewValidationError("order", "order does not need a capture"))
		return
	}
	if order.PaymentStatus != models.OrderPending {
		view := order.StatusView()
		writeJSON(w, http.StatusOK, view)
		return
	}

	providerOrderID := req.ProviderOrderID
	if providerOrderID == "" {
		providerOrderID = order.ProviderReference
	}
	if providerOrderID != order.ProviderReference {
		writeError(w, r, fmt.Errorf("%w: capture of %s for order %s", models.ErrReferenceMismatch, providerOrderID, order.ID))
		return
	}

	sig, err := capturer.Capture(r.Context(), providerOrderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sig.IsTerminal() {
		if _, err := h.reconciler.Apply(r.Context(), sig); err != nil {
			writeError(w, r, err)
			return
		}
	}

	view, err := h.poller.Status(r.Context(), order.ID, buyer.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if view.PaymentStatus == models.OrderPending {
		status = http.StatusAccepted
	}
	writeJSON(w, status, view)
}

// OrderStatus returns the order's current payment status without waiting
func (h *PaymentHandler) OrderStatus(w http.ResponseWriter, r *http.Request) {
	buyer, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	orderID, err := uuidParam(r, "id", models.ErrOrderNotFound)
	if err != nil {
		writeError(w, r, err)
		return
	}

	view, err := h.poller.Status(r.Context(), orderID, buyer.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// WaitForOrder polls until the order resolves. A still-pending order after the
// last attempt answers 202 with the pending status; nothing is changed.
func (h *PaymentHandler) WaitForOrder(w http.ResponseWriter, r *http.Request) {
	buyer, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	orderID, err := uuidParam(r, "id", models.ErrOrderNotFound)
	if err != nil {
		writeError(w, r, err)
		return
	}

	view, err := h.poller.Wait(r.Context(), orderID, buyer.UserID)
	if errors.Is(err, models.ErrPollTimeout) && view != nil {
		writeJSON(w, http.StatusAccepted, view)
		return
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// client went away
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
