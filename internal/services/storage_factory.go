package services

import (
	"context"
	"errors"
	"log"
	"time"

	"tikiti/internal/config"
)

// StorageFactory creates the statement storage from configuration
type StorageFactory struct {
	config *config.Config
}

// NewStorageFactory creates a new storage factory
func NewStorageFactory(cfg *config.Config) *StorageFactory {
	return &StorageFactory{config: cfg}
}

// CreateStorageService creates R2 storage backed by local disk, or local disk alone when R2 is unusable
func (f *StorageFactory) CreateStorageService() StorageService {
	local := NewLocalStorageService(f.config.Payouts.StatementsDir, "file://"+f.config.Payouts.StatementsDir)

	if err := f.ValidateR2Configuration(); err != nil {
		log.Printf("R2 not configured (%v), keeping payout statements on local disk", err)
		return local
	}
	r2Service, err := NewR2Service(f.config.R2)
	if err != nil {
		log.Printf("Warning: R2 service unavailable, using local storage only: %v", err)
		return local
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r2Service.HealthCheck(ctx); err != nil {
		log.Printf("Warning: R2 health check failed, using local storage only: %v", err)
		return local
	}

	log.Println("R2 statement storage initialized successfully")
	return NewStorageServiceWithFallback(r2Service, local)
}

// ValidateR2Configuration reports the missing R2 settings
func (f *StorageFactory) ValidateR2Configuration() error {
	cfg := f.config.R2
	var errs []error
	if cfg.AccountID == "" && cfg.Endpoint == "" {
		errs = append(errs, errors.New("R2_ACCOUNT_ID is required"))
	}
	if cfg.AccessKeyID == "" {
		errs = append(errs, errors.New("R2_ACCESS_KEY_ID is required"))
	}
	if cfg.SecretAccessKey == "" {
		errs = append(errs, errors.New("R2_SECRET_ACCESS_KEY is required"))
	}
	if cfg.BucketName == "" {
		errs = append(errs, errors.New("R2_BUCKET_NAME is required"))
	}
	return errors.Join(errs...)
}
