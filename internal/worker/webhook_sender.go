package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// WebhookSender posts deliveries to care-agency endpoints.
type WebhookSender struct {
	client *http.Client
	logger *zap.Logger
}

type WebhookConfig struct {
	DefaultTimeout time.Duration
}

// NewWebhookSender creates a new webhook sender
func NewWebhookSender(logger *zap.Logger, cfg WebhookConfig) *WebhookSender {
	timeout := cfg.DefaultTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &WebhookSender{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Send delivers the payload body; any non-2xx answer is an error.
func (s *WebhookSender) Send(ctx context.Context, d *Delivery) error {
	if d.Channel != ChannelWebhook {
		return fmt.Errorf("webhook sender only supports webhooks, got: %s", d.Channel)
	}

	var payload WebhookPayload
	if err := json.Unmarshal(d.Payload, &payload); err != nil {
		return fmt.Errorf("invalid webhook payload: %w", err)
	}

	if payload.URL == "" {
		return fmt.Errorf("webhook payload missing url")
	}

	method := payload.Method
	if method == "" {
		method = http.MethodPost
	}
	if method != http.MethodPost && method != http.MethodPut && method != http.MethodPatch {
		return fmt.Errorf("webhook method not supported: %s (only POST, PUT, PATCH)", method)
	}

	if payload.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(payload.Timeout)*time.Second)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, payload.URL, bytes.NewReader(payload.Body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "CareCircle/1.0")
	req.Header.Set("X-CareCircle-Delivery-ID", d.ID.String())
	req.Header.Set("X-CareCircle-Kind", d.Kind)
	for key, value := range payload.Headers {
		req.Header.Set(key, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	preview, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-2xx status: %d, body: %s", resp.StatusCode, string(preview))
	}

	s.logger.Info("webhook delivered",
		zap.String("id", d.ID.String()),
		zap.String("url", payload.URL),
		zap.Int("status_code", resp.StatusCode),
	)

	return nil
}

// SupportsChannel checks if this sender supports webhooks
func (s *WebhookSender) SupportsChannel(channel string) bool {
	return channel == ChannelWebhook
}
