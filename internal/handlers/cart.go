package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"

	"tikiti/internal/middleware"
	"tikiti/internal/models"
	"tikiti/internal/services"
)

// CartHandler serves the session cart and checkout
type CartHandler struct {
	cartService     *services.CartService
	checkoutService *services.CheckoutService
	store           sessions.Store
}

// NewCartHandler creates a new cart handler
func NewCartHandler(cartService *services.CartService, checkoutService *services.CheckoutService, store sessions.Store) *CartHandler {
	return &CartHandler{
		cartService:     cartService,
		checkoutService: checkoutService,
		store:           store,
	}
}

// CartResponse is the cart together with its derived totals
type CartResponse struct {
	Lines  []models.CartLine `json:"lines"`
	Totals models.CartTotals `json:"totals"`
}

func cartResponse(cart models.Cart) CartResponse {
	lines := cart.Lines
	if lines == nil {
		lines = []models.CartLine{}
	}
	return CartResponse{Lines: lines, Totals: cart.Totals()}
}

// saveCart persists the cart and answers with its current state
func (h *CartHandler) saveCart(w http.ResponseWriter, r *http.Request, session *sessions.Session, cart models.Cart, status int) {
	if err := middleware.SaveCart(w, r, session, cart); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, cartResponse(cart))
}

// ViewCart returns the cart in the session
func (h *CartHandler) ViewCart(w http.ResponseWriter, r *http.Request) {
	cart, _ := middleware.LoadCart(h.store, r)
	writeJSON(w, http.StatusOK, cartResponse(cart))
}

// AddLine adds tickets to the cart
func (h *CartHandler) AddLine(w http.ResponseWriter, r *http.Request) {
	var req models.AddToCartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	cart, session := middleware.LoadCart(h.store, r)
	updated, err := h.cartService.AddLine(r.Context(), cart, req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.saveCart(w, r, session, updated, http.StatusOK)
}

// UpdateLine changes the quantity of a cart line; zero or less removes it
func (h *CartHandler) UpdateLine(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateCartLineRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	cart, session := middleware.LoadCart(h.store, r)
	updated, err := h.cartService.SetQuantity(r.Context(), cart, chi.URLParam(r, "id"), req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.saveCart(w, r, session, updated, http.StatusOK)
}

// RemoveLine removes a line from the cart
func (h *CartHandler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	cart, session := middleware.LoadCart(h.store, r)
	updated, err := h.cartService.RemoveLine(cart, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.saveCart(w, r, session, updated, http.StatusOK)
}

// ClearCart empties the cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	cart, session := middleware.LoadCart(h.store, r)
	h.saveCart(w, r, session, cart.Clear(), http.StatusOK)
}

// Checkout turns the cart into a pending order and starts the payment.
// The cart is emptied once the order exists, unless the provider refused the charge.
func (h *CartHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	buyer, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req models.CheckoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	cart, session := middleware.LoadCart(h.store, r)
	result, err := h.checkoutService.Checkout(r.Context(), cart, buyer, req)
	if err != nil {
		var provErr *models.ProviderError
		if errors.As(err, &provErr) {
			log.Printf("Checkout for user %s failed at %s: %v", buyer.UserID, provErr.Provider, err)
		}
		writeError(w, r, err)
		return
	}

	if err := middleware.SaveCart(w, r, session, cart.Clear()); err != nil {
		log.Printf("Failed to clear cart after order %s: %v", result.Order.ID, err)
	}

	writeJSON(w, http.StatusCreated, result)
}
