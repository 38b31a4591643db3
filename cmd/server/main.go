package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"tikiti/internal/config"
	"tikiti/internal/database"
	"tikiti/internal/handlers"
	"tikiti/internal/middleware"
	"tikiti/internal/models"
	"tikiti/internal/repositories"
	"tikiti/internal/server"
	"tikiti/internal/services"
)

const (
	checkoutsPerMinute = 10
	badScansPerMinute  = 20
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.NewConnection(ctx, cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer db.Close()
	log.Println("Database connection established successfully")

	if err := db.RunMigrations(ctx); err != nil {
		log.Fatal("Failed to run migrations:", err)
	}

	// Repositories
	eventRepo := repositories.NewEventRepository(db.DB)
	orderRepo := repositories.NewOrderRepository(db.DB)
	ticketRepo := repositories.NewTicketRepository(db.DB)
	payoutRepo := repositories.NewPayoutRepository(db.DB)
	broadcastRepo := repositories.NewBroadcastRepository(db.DB)

	// Provider access tokens are shared across instances through Redis when configured
	var tokens services.TokenCache
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			log.Printf("Warning: Redis unavailable (%v), caching provider tokens in memory", err)
			tokens = services.NewMemoryTokenCache()
		} else {
			tokens = services.NewRedisTokenCache(client)
			log.Println("Provider tokens cached in Redis")
		}
	} else {
		tokens = services.NewMemoryTokenCache()
	}

	var publisher services.EventPublisher = services.LogPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		kafka := services.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kafka.Close()
		publisher = kafka
		log.Printf("Publishing payment events to Kafka topic %s", cfg.Kafka.Topic)
	}

	metrics := services.NewMetrics()
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(reg); err != nil {
		log.Fatal("Failed to register metrics:", err)
	}

	registry, err := newRegistry(cfg, tokens)
	if err != nil {
		log.Fatal("Failed to configure payment rails:", err)
	}

	immediatePayouts := cfg.Payouts.Mode == "immediate"
	storage := services.NewStorageFactory(cfg).CreateStorageService()

	reconciler := services.NewReconciler(orderRepo, publisher, metrics, immediatePayouts, uuid.NewString, time.Now)
	checkoutService := services.NewCheckoutService(registry, orderRepo, reconciler, publisher, metrics, immediatePayouts)
	cartService := services.NewCartService(eventRepo)
	poller := services.NewPoller(orderRepo, cfg.Poll.Interval, cfg.Poll.MaxAttempts)
	payoutService := services.NewPayoutService(payoutRepo, orderRepo, storage, publisher, metrics, cfg.Payouts.BatchLimit)
	checkInService := services.NewCheckInService(ticketRepo, eventRepo)
	broadcastService := services.NewBroadcastService(eventRepo, ticketRepo, broadcastRepo, services.NewAfricasTalkingSender(cfg.SMS), cfg.SMS.ChunkSize)
	sweeper := services.NewSweeper(orderRepo, registry, reconciler, cfg.Poll.SweepGrace, cfg.Poll.PendingExpiry)

	checkoutLimiter := middleware.NewRateLimiter(checkoutsPerMinute, time.Minute)
	defer checkoutLimiter.Stop()
	scanLimiter := middleware.NewRateLimiter(badScansPerMinute, time.Minute)
	defer scanLimiter.Stop()

	router := server.NewRouter(server.Options{
		Auth:            middleware.NewAuthMiddleware(cfg.Auth),
		Cart:            handlers.NewCartHandler(cartService, checkoutService, middleware.NewSessionStore(cfg.Session)),
		Payment:         handlers.NewPaymentHandler(registry, reconciler, orderRepo, poller, metrics),
		Payout:          handlers.NewPayoutHandler(payoutService),
		Event:           handlers.NewEventHandler(checkInService, broadcastService),
		Gatherer:        reg,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		CheckoutLimiter: checkoutLimiter,
		ScanLimiter:     scanLimiter,
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx, cfg.Poll.SweepInterval)
	}()

	if !immediatePayouts && cfg.Payouts.SchedulerOn {
		loc, err := cfg.Payouts.Location()
		if err != nil {
			log.Fatal("Invalid payout schedule:", err)
		}
		scheduler := services.NewDailyScheduler("Payout batch", cfg.Payouts.ScheduleHour, cfg.Payouts.ScheduleMin, loc,
			func(ctx context.Context) error {
				_, err := payoutService.RunBatch(ctx)
				return err
			})
		wg.Add(1)
		go func() {
			defer wg.Done()
			scheduler.Run(ctx)
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// long enough for a full payment wait
		WriteTimeout: cfg.Poll.Interval*time.Duration(cfg.Poll.MaxAttempts) + 30*time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		log.Printf("Server starting on %s (payouts: %s, card rail: %s)", srv.Addr, cfg.Payouts.Mode, cfg.Payments.CardProvider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed to start:", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Graceful shutdown failed: %v", err)
	}
	wg.Wait()
}

// newRegistry builds the adapters for every rail with credentials configured
func newRegistry(cfg *config.Config, tokens services.TokenCache) (*services.Registry, error) {
	p := cfg.Payments
	timeout := p.RequestTimeout

	adapters := []services.PaymentAdapter{services.NewComplimentaryAdapter()}
	if p.Mpesa.ConsumerKey != "" {
		adapters = append(adapters, services.NewMpesaAdapter(p.Mpesa, timeout, tokens))
	}
	if p.Flutterwave.SecretKey != "" {
		adapters = append(adapters, services.NewFlutterwaveAdapter(p.Flutterwave, timeout))
	}
	if p.PayPal.ClientID != "" {
		adapters = append(adapters, services.NewPayPalAdapter(p.PayPal, timeout, tokens))
	}
	if p.Paystack.SecretKey != "" {
		adapters = append(adapters, services.NewPaystackAdapter(p.Paystack, timeout))
	}
	if p.Pesapal.ConsumerKey != "" {
		adapters = append(adapters, services.NewPesapalAdapter(p.Pesapal, timeout, tokens))
	}

	cardProvider := models.Provider(p.CardProvider)
	registry := services.NewRegistry(cardProvider, adapters...)
	if _, ok := registry.Get(cardProvider); !ok {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("card provider %s has no credentials", cardProvider)
		}
		log.Printf("Warning: card provider %s has no credentials, card payments are disabled", cardProvider)
	}
	for _, a := range adapters {
		log.Printf("Payment rail enabled: %s (%s)", a.Provider(), a.Flow())
	}
	return registry, nil
}
