package services

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalStorageService keeps statements on the local disk when R2 is not configured or unavailable
type LocalStorageService struct {
	basePath string
	baseURL  string
}

// NewLocalStorageService creates a new local storage service rooted at basePath
func NewLocalStorageService(basePath, baseURL string) *LocalStorageService {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		log.Printf("Warning: failed to create storage directory %s: %v", basePath, err)
	}
	return &LocalStorageService{
		basePath: basePath,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
	}
}

func (l *LocalStorageService) path(key string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	fullPath := filepath.Join(l.basePath, filepath.FromSlash(key))
	rel, err := filepath.Rel(l.basePath, fullPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return fullPath, nil
}

// Upload saves the object to disk
func (l *LocalStorageService) Upload(_ context.Context, key string, reader io.Reader, _ string, size int64) (string, error) {
	fullPath, err := l.path(key)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to create file %s: %w", fullPath, err)
	}
	defer file.Close()

	written, err := io.Copy(file, reader)
	if err != nil {
		return "", fmt.Errorf("failed to write file %s: %w", fullPath, err)
	}
	if written != size {
		return "", fmt.Errorf("size mismatch: expected %d bytes, wrote %d bytes", size, written)
	}

	log.Printf("Local storage: saved %s to %s", key, fullPath)
	return l.url(key), nil
}

func (l *LocalStorageService) url(key string) string {
	return fmt.Sprintf("%s/%s", l.baseURL, strings.TrimPrefix(key, "/"))
}

// DownloadURL returns the object's URL under baseURL; local links never expire
func (l *LocalStorageService) DownloadURL(_ context.Context, key string, _ time.Duration) (string, error) {
	if _, err := l.path(key); err != nil {
		return "", err
	}
	return l.url(key), nil
}

// Exists checks if the object is on disk
func (l *LocalStorageService) Exists(_ context.Context, key string) (bool, error) {
	fullPath, err := l.path(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(fullPath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check if file exists: %w", err)
	}
	return true, nil
}

// StorageServiceWithFallback writes to the primary and falls back to the secondary on error
type StorageServiceWithFallback struct {
	primary  StorageService
	fallback StorageService
}

// NewStorageServiceWithFallback creates a storage service with fallback capability
func NewStorageServiceWithFallback(primary, fallback StorageService) *StorageServiceWithFallback {
	return &StorageServiceWithFallback{primary: primary, fallback: fallback}
}

// Upload tries primary storage first. The reader must be seekable for the fallback to get a second pass.
func (s *StorageServiceWithFallback) Upload(ctx context.Context, key string, reader io.Reader, contentType string, size int64) (string, error) {
	location, err := s.primary.Upload(ctx, key, reader, contentType, size)
	if err == nil {
		return location, nil
	}
	log.Printf("Primary storage failed, using fallback: %v", err)

	seeker, ok := reader.(io.Seeker)
	if !ok {
		return "", fmt.Errorf("primary storage failed and cannot reset reader for fallback: %w", err)
	}
	if _, serr := seeker.Seek(0, io.SeekStart); serr != nil {
		return "", fmt.Errorf("primary storage failed and reader reset failed: %w", err)
	}
	return s.fallback.Upload(ctx, key, reader, contentType, size)
}

// DownloadURL links to whichever storage holds the object, preferring the primary
func (s *StorageServiceWithFallback) DownloadURL(ctx context.Context, key string, expiration time.Duration) (string, error) {
	if ok, err := s.primary.Exists(ctx, key); err == nil && ok {
		return s.primary.DownloadURL(ctx, key, expiration)
	}
	return s.fallback.DownloadURL(ctx, key, expiration)
}

// Exists checks both storages
func (s *StorageServiceWithFallback) Exists(ctx context.Context, key string) (bool, error) {
	exists, err := s.primary.Exists(ctx, key)
	if err == nil && exists {
		return true, nil
	}
	return s.fallback.Exists(ctx, key)
}
