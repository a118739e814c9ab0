package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Sender delivers on one or more channels.
// Implementations: push (SNS), email (SES), webhook, queue (SQS), log.
type Sender interface {
	Send(ctx context.Context, d *Delivery) error
	SupportsChannel(channel string) bool
}

// MultiSender routes deliveries to the first sender supporting the channel.
type MultiSender struct {
	senders []Sender
	logger  *zap.Logger
}

// NewMultiSender creates a router that uses multiple underlying senders
func NewMultiSender(logger *zap.Logger, senders ...Sender) *MultiSender {
	return &MultiSender{
		senders: senders,
		logger:  logger,
	}
}

// Send routes the delivery to the appropriate sender based on channel
func (m *MultiSender) Send(ctx context.Context, d *Delivery) error {
	for _, sender := range m.senders {
		if sender.SupportsChannel(d.Channel) {
			m.logger.Debug("routing delivery to sender",
				zap.String("channel", d.Channel),
				zap.String("delivery_id", d.ID.String()),
			)
			return sender.Send(ctx, d)
		}
	}

	return fmt.Errorf("no sender found for channel: %s", d.Channel)
}

// SupportsChannel checks if any underlying sender supports the channel
func (m *MultiSender) SupportsChannel(channel string) bool {
	for _, sender := range m.senders {
		if sender.SupportsChannel(channel) {
			return true
		}
	}
	return false
}

// LogSender logs deliveries instead of sending them. Used in development and
// as the fallback when a provider is not configured.
type LogSender struct {
	logger   *zap.Logger
	channels map[string]bool
}

// NewLogSender handles the given channels, or every channel when none given.
func NewLogSender(logger *zap.Logger, channels ...string) *LogSender {
	s := &LogSender{logger: logger}
	if len(channels) > 0 {
		s.channels = make(map[string]bool, len(channels))
		for _, c := range channels {
			s.channels[c] = true
		}
	}
	return s
}

func (s *LogSender) Send(ctx context.Context, d *Delivery) error {
	s.logger.Info("logging delivery (development mode)",
		zap.String("id", d.ID.String()),
		zap.String("kind", d.Kind),
		zap.String("channel", d.Channel),
		zap.String("user_id", d.UserID.String()),
		zap.ByteString("payload", d.Payload),
	)
	return nil
}

func (s *LogSender) SupportsChannel(channel string) bool {
	if s.channels == nil {
		return channel == ChannelPush || channel == ChannelEmail || channel == ChannelWebhook
	}
	return s.channels[channel]
}
