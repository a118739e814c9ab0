package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/carecircle/internal/metrics"
)

// ErrNoTokens is returned for a push delivery with an empty token list.
var ErrNoTokens = errors.New("push payload has no tokens")

// PushPublisher publishes a rendered push message to one device token.
type PushPublisher interface {
	PublishToToken(ctx context.Context, token, message string) (string, error)
}

// PushSender sends push deliveries as one multicast over all tokens.
type PushSender struct {
	publisher PushPublisher
	logger    *zap.Logger
}

// NewPushSender creates a push sender over publisher.
func NewPushSender(publisher PushPublisher, logger *zap.Logger) *PushSender {
	return &PushSender{publisher: publisher, logger: logger}
}

// MulticastResult counts per-token outcomes.
type MulticastResult struct {
	SuccessCount int
	FailureCount int
}

// Send publishes to every token. It fails only when no token succeeded.
func (s *PushSender) Send(ctx context.Context, d *Delivery) error {
	if d.Channel != ChannelPush {
		return fmt.Errorf("push sender only supports push, got: %s", d.Channel)
	}

	var payload PushPayload
	if err := json.Unmarshal(d.Payload, &payload); err != nil {
		return fmt.Errorf("invalid push payload: %w", err)
	}
	if len(payload.Tokens) == 0 {
		return ErrNoTokens
	}

	message, err := RenderPushMessage(payload)
	if err != nil {
		return err
	}

	var result MulticastResult
	var lastErr error
	for _, token := range payload.Tokens {
		if _, err := s.publisher.PublishToToken(ctx, token, message); err != nil {
			result.FailureCount++
			lastErr = err
			s.logger.Warn("push to token failed",
				zap.String("delivery_id", d.ID.String()),
				zap.Error(err),
			)
			continue
		}
		result.SuccessCount++
	}

	metrics.RecordPushTokens(result.SuccessCount, result.FailureCount)

	if result.SuccessCount == 0 {
		return fmt.Errorf("push failed for all %d tokens: %w", result.FailureCount, lastErr)
	}

	s.logger.Info("push sent",
		zap.String("delivery_id", d.ID.String()),
		zap.String("kind", d.Kind),
		zap.Int("success", result.SuccessCount),
		zap.Int("failure", result.FailureCount),
	)

	return nil
}

// SupportsChannel checks if this sender supports the push channel
func (s *PushSender) SupportsChannel(channel string) bool {
	return channel == ChannelPush
}

// RenderPushMessage renders the per-platform JSON message used with
// MessageStructure=json. GCM carries the FCM-style body; default is the plain
// text fallback.
func RenderPushMessage(p PushPayload) (string, error) {
	gcm, err := json.Marshal(struct {
		Notification PushNotification  `json:"notification"`
		Data         map[string]string `json:"data,omitempty"`
		Android      AndroidConfig     `json:"android"`
	}{p.Notification, p.Data, p.Android})
	if err != nil {
		return "", fmt.Errorf("marshal gcm message: %w", err)
	}

	msg, err := json.Marshal(map[string]string{
		"default": p.Notification.Title + ": " + p.Notification.Body,
		"GCM":     string(gcm),
	})
	if err != nil {
		return "", fmt.Errorf("marshal push message: %w", err)
	}
	return string(msg), nil
}
