package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tikiti/internal/config"
)

// atSentStatus is the per-recipient status code Africa's Talking uses for a queued message
const atSentStatus = 101

// AfricasTalkingSender sends bulk SMS through the Africa's Talking messaging API
type AfricasTalkingSender struct {
	config config.SMSConfig
	http   *http.Client
}

// NewAfricasTalkingSender creates a new SMS sender
func NewAfricasTalkingSender(cfg config.SMSConfig) *AfricasTalkingSender {
	return &AfricasTalkingSender{
		config: cfg,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

type atResponse struct {
	SMSMessageData struct {
		Message string `json:"Message"`
		Recipients []struct {
			Number     string `json:"number"`
			Status     string `json:"status"`
			StatusCode int    `json:"statusCode"`
		} `json:"Recipients"`
	} `json:"SMSMessageData"`
}

// Send delivers message to recipients in one request and reports how many were not accepted
func (s *AfricasTalkingSender) Send(ctx context.Context, recipients []string, message string) (int, error) {
	if len(recipients) == 0 {
		return 0, nil
	}
	form := url.Values{
		"username": {s.config.Username},
		"to":       {strings.Join(recipients, ",")},
		"message":  {message},
	}
	if s.config.SenderID != "" {
		form.Set("from", s.config.SenderID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(s.config.BaseURL, "/")+"/version1/messaging", strings.NewReader(form.Encode()))
	if err != nil {
		return len(recipients), fmt.Errorf("failed to create SMS request: %w", err)
	}
	req.Header.Set("apiKey", s.config.APIKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.http.Do(req)
	if err != nil {
		return len(recipients), fmt.Errorf("failed to send SMS: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return len(recipients), fmt.Errorf("failed to read SMS response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return len(recipients), fmt.Errorf("SMS gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result atResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return len(recipients), fmt.Errorf("failed to decode SMS response: %w", err)
	}

	accepted := 0
	for _, r := range result.SMSMessageData.Recipients {
		if r.StatusCode == atSentStatus {
			accepted++
		}
	}
	return len(recipients) - accepted, nil
}
