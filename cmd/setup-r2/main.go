package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"tikiti/internal/config"
	"tikiti/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	factory := services.NewStorageFactory(cfg)
	if err := factory.ValidateR2Configuration(); err != nil {
		log.Fatalf("R2 configuration validation failed: %v", err)
	}
	fmt.Println("R2 configuration is valid")
	fmt.Printf("  Bucket Name: %s\n", cfg.R2.BucketName)
	fmt.Printf("  Local fallback: %s\n", cfg.Payouts.StatementsDir)

	r2, err := services.NewR2Service(cfg.R2)
	if err != nil {
		log.Fatalf("Failed to create R2 client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if len(os.Args) > 1 && os.Args[1] == "setup" {
		fmt.Println("\nCreating statement bucket...")
		if err := r2.CreateBucket(ctx); err != nil {
			log.Fatalf("Failed to set up R2 bucket: %v", err)
		}
		fmt.Println("R2 bucket setup completed successfully!")
		return
	}

	if err := r2.HealthCheck(ctx); err != nil {
		fmt.Printf("\nBucket is not reachable: %v\n", err)
		fmt.Println("To create the bucket, run: go run ./cmd/setup-r2 setup")
		os.Exit(1)
	}
	fmt.Println("\nBucket is reachable")
}
