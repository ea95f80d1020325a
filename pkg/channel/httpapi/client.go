// Package httpapi delivers envelopes to a JSON HTTP email provider.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"dispatchq/pkg/channel"
)

const ProviderName = "httpapi"

// maxErrorBody bounds how much of a provider error response is kept in the error message
const maxErrorBody = 512

// Config holds the provider endpoint and credentials
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Client posts envelopes to Config.Endpoint with a bearer API key
type Client struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

type sendRequest struct {
	From        string            `json:"from"`
	To          string            `json:"to"`
	ReplyTo     string            `json:"reply_to,omitempty"`
	Subject     string            `json:"subject"`
	HTML        string            `json:"html,omitempty"`
	Text        string            `json:"text,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
	Idempotency string            `json:"idempotency_key"`
}

type sendResponse struct {
	ID      string `json:"id"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewClient creates an HTTP provider client
func NewClient(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("httpapi: endpoint is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) Name() string { return ProviderName }

// Transmit posts the envelope. 2xx is accepted; 408, 429, 5xx and network errors are
// transient; any other status is permanent.
func (c *Client) Transmit(ctx context.Context, env *channel.Envelope) (*channel.Receipt, error) {
	payload := sendRequest{
		From:        env.Sender,
		To:          env.Recipient,
		ReplyTo:     env.ReplyTo,
		Subject:     env.Subject,
		HTML:        env.HTMLBody,
		Text:        env.TextBody,
		Tags:        map[string]string{"message_type": env.MessageType},
		Idempotency: env.MessageID,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, channel.Permanent(ProviderName, fmt.Errorf("failed to marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, channel.Permanent(ProviderName, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", env.MessageID)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, channel.Transient(ProviderName, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, channel.Transient(ProviderName, fmt.Errorf("failed to read response: %w", err))
	}

	var result sendResponse
	_ = json.Unmarshal(body, &result)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if result.ID == "" {
			result.ID = resp.Header.Get("X-Message-Id")
		}
		if result.ID == "" {
			return nil, channel.Transient(ProviderName, errors.New("provider accepted the message without returning an id"))
		}
		return &channel.Receipt{ProviderMessageID: result.ID, Provider: ProviderName}, nil
	}

	statusErr := fmt.Errorf("request failed with status %d: %s", resp.StatusCode, errorDetail(result, body))
	if isRetryableStatus(resp.StatusCode) {
		return nil, channel.Transient(ProviderName, statusErr)
	}
	return nil, channel.Permanent(ProviderName, statusErr)
}

func isRetryableStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}

func errorDetail(result sendResponse, body []byte) string {
	switch {
	case result.Error != "":
		return result.Error
	case result.Message != "":
		return result.Message
	case len(body) > maxErrorBody:
		return string(body[:maxErrorBody])
	default:
		return string(body)
	}
}
