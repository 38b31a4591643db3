package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"tikiti/internal/config"
	"tikiti/internal/database"
	"tikiti/internal/models"
	"tikiti/internal/repositories"
	"tikiti/internal/services"
)

// Runs a single payout batch, for cron setups that keep the in-process scheduler off.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	db, err := database.NewConnection(ctx, cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer db.Close()

	var publisher services.EventPublisher = services.LogPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		kafka := services.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kafka.Close()
		publisher = kafka
	}

	payouts := services.NewPayoutService(
		repositories.NewPayoutRepository(db.DB),
		repositories.NewOrderRepository(db.DB),
		services.NewStorageFactory(cfg).CreateStorageService(),
		publisher,
		services.NewMetrics(),
		cfg.Payouts.BatchLimit,
	)

	batch, err := payouts.RunBatch(ctx)
	if err != nil {
		log.Fatal("Payout batch failed:", err)
	}

	fmt.Printf("Batch %s processed %d orders\n", batch.ID, batch.OrdersPaid)
	for _, rec := range batch.Records {
		fmt.Printf("  %-36s %s %s (%d tickets)\n", rec.OrganizerID, rec.Currency, models.FormatAmount(rec.Amount, rec.Currency), rec.TicketCount)
	}
	if batch.StatementURL != "" {
		fmt.Printf("Statement: %s\n", batch.StatementURL)
	}
}
