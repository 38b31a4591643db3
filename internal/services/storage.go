package services

import (
	"context"
	"io"
	"time"
)

// StorageService stores payout statements and hands out links to them
type StorageService interface {
	// Upload stores the object under key and returns its location
	Upload(ctx context.Context, key string, reader io.Reader, contentType string, size int64) (string, error)

	// Exists checks if an object is stored under key
	Exists(ctx context.Context, key string) (bool, error)

	// DownloadURL returns a link an administrator can fetch the object from
	DownloadURL(ctx context.Context, key string, expiration time.Duration) (string, error)
}

// statementKey is where the statement of a payout batch is stored
func statementKey(batchID string) string {
	return "statements/" + batchID + ".csv"
}
