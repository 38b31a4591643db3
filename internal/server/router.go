package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tikiti/internal/handlers"
	"tikiti/internal/middleware"
	"tikiti/internal/models"
)

// Options are the collaborators the HTTP API is built from
type Options struct {
	Auth           *middleware.AuthMiddleware
	Cart           *handlers.CartHandler
	Payment        *handlers.PaymentHandler
	Payout         *handlers.PayoutHandler
	Event          *handlers.EventHandler
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string

	// CheckoutLimiter throttles checkouts per caller; ScanLimiter locks out repeated bad scans
	CheckoutLimiter *middleware.RateLimiter
	ScanLimiter     *middleware.RateLimiter
}

func passthrough(next http.Handler) http.Handler { return next }

// NewRouter builds the HTTP API
func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(middleware.LoggingMiddleware)
	r.Use(middleware.ErrorHandlingMiddleware)
	r.Use(middleware.SecurityHeadersMiddleware)
	r.Use(middleware.CORSMiddleware(middleware.DefaultCORSConfig(opts.AllowedOrigins)))
	r.Use(chimiddleware.Heartbeat("/healthz"))

	r.NotFound(middleware.NotFoundHandler().ServeHTTP)
	r.MethodNotAllowed(middleware.MethodNotAllowedHandler().ServeHTTP)

	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	// Provider callbacks authenticate themselves; see each adapter's ParseWebhook
	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/mpesa", opts.Payment.MpesaCallback)
		r.Post("/flutterwave", opts.Payment.FlutterwaveWebhook)
		r.Post("/paystack", opts.Payment.PaystackWebhook)
		r.Get("/pesapal", opts.Payment.PesapalIPN)
		r.Post("/pesapal", opts.Payment.PesapalIPN)
	})

	checkoutLimit := passthrough
	if opts.CheckoutLimiter != nil {
		checkoutLimit = middleware.RateLimit(opts.CheckoutLimiter, middleware.CallerKey)
	}
	scanLimit := passthrough
	if opts.ScanLimiter != nil {
		scanLimit = middleware.FailureRateLimit(opts.ScanLimiter, middleware.CallerKey)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(opts.Auth.LoadUser)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", opts.Cart.ViewCart)
			r.Delete("/", opts.Cart.ClearCart)
			r.Post("/lines", opts.Cart.AddLine)
			r.Patch("/lines/{id}", opts.Cart.UpdateLine)
			r.Delete("/lines/{id}", opts.Cart.RemoveLine)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth)

			r.With(checkoutLimit).Post("/checkout", opts.Cart.Checkout)

			r.Route("/orders/{id}", func(r chi.Router) {
				r.Post("/capture", opts.Payment.Capture)
				r.Get("/status", opts.Payment.OrderStatus)
				r.Get("/wait", opts.Payment.WaitForOrder)
			})

			r.Route("/events/{eventId}", func(r chi.Router) {
				r.With(scanLimit).Post("/checkin", opts.Event.CheckIn)
				r.Post("/broadcasts", opts.Event.SendBroadcast)
				r.Get("/broadcasts", opts.Event.BroadcastHistory)
			})
		})

		r.Route("/admin/payouts", func(r chi.Router) {
			r.Use(middleware.RequireRole(models.UserRoleAdmin))
			r.Get("/", opts.Payout.ListPayouts)
			r.Post("/run", opts.Payout.RunBatch)
			r.Post("/orders/{id}", opts.Payout.TriggerForOrder)
			r.Post("/{id}/paid", opts.Payout.MarkPaid)
			r.Get("/statements/{batchID}", opts.Payout.StatementURL)
		})
	})

	return r
}
