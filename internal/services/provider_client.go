package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"tikiti/internal/models"
)

// ProviderClient is the outbound HTTP client shared by a payment adapter.
// Every call is bounded by a timeout and guarded by a per-provider circuit breaker.
type ProviderClient struct {
	provider models.Provider
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker

	// stillProcessing recognizes error replies that only mean the charge has no result yet
	stillProcessing func(status int, message string) bool
}

// errStillProcessing marks a provider reply that says the charge has no result yet
var errStillProcessing = errors.New("payment still processing")

// NewProviderClient creates a client for one provider
func NewProviderClient(provider models.Provider, timeout time.Duration) *ProviderClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	settings := gobreaker.Settings{
		Name:        string(provider),
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= 5 {
				return true
			}
			return counts.Requests >= 10 && counts.TotalFailures*2 > counts.Requests
		},
		// Provider-side rejections (4xx) mean the provider is healthy
		IsSuccessful: func(err error) bool {
			if errors.Is(err, errStillProcessing) {
				return true
			}
			var perr *models.ProviderError
			if errors.As(err, &perr) {
				return !perr.IsRetryable()
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("Provider %s circuit breaker: %s -> %s", name, from, to)
		},
	}
	return &ProviderClient{
		provider: provider,
		http:     &http.Client{Timeout: timeout},
		breaker:  gobreaker.NewCircuitBreaker(settings),
	}
}

// Do sends the request and returns the response body of a 2xx reply.
// Transport failures, non-2xx replies and an open breaker are returned as *models.ProviderError.
func (c *ProviderClient) Do(req *http.Request, operation string) ([]byte, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, &models.ProviderError{Provider: c.provider, Operation: operation, Message: "request failed", Err: err}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &models.ProviderError{Provider: c.provider, Operation: operation, StatusCode: resp.StatusCode, Message: "failed to read response", Err: err}
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			perr := &models.ProviderError{
				Provider:   c.provider,
				Operation:  operation,
				StatusCode: resp.StatusCode,
				Message:    providerMessage(body),
			}
			if c.stillProcessing != nil && c.stillProcessing(resp.StatusCode, perr.Message) {
				perr.Err = errStillProcessing
			}
			return nil, perr
		}
		return body, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &models.ProviderError{Provider: c.provider, Operation: operation, Message: "provider temporarily unavailable", Err: err}
	}
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// DoJSON sends payload as JSON (when non-nil) and decodes a 2xx reply into out (when non-nil)
func (c *ProviderClient) DoJSON(ctx context.Context, method, url, operation string, headers map[string]string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", operation, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", operation, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	data, err := c.Do(req, operation)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decodeProviderJSON(c.provider, operation, data, out)
}

func decodeProviderJSON(provider models.Provider, operation string, data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return &models.ProviderError{Provider: provider, Operation: operation, Message: "invalid response body", Err: err}
	}
	return nil
}

// providerMessage extracts a readable error message from a provider error body
func providerMessage(body []byte) string {
	var parsed struct {
		Message      string `json:"message"`
		ErrorMessage string `json:"errorMessage"`
		Error        any    `json:"error"`
		Description  string `json:"error_description"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		switch {
		case parsed.Message != "":
			return parsed.Message
		case parsed.ErrorMessage != "":
			return parsed.ErrorMessage
		case parsed.Description != "":
			return parsed.Description
		case parsed.Error != nil:
			return fmt.Sprint(parsed.Error)
		}
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}
