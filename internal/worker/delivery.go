package worker

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Delivery channels
const (
	ChannelPush    = "push"
	ChannelEmail   = "email"
	ChannelWebhook = "webhook"
)

// Delivery is one message on one channel. Payload holds the channel's
// payload type (PushPayload, EmailPayload or WebhookPayload) as JSON.
type Delivery struct {
	ID        uuid.UUID       `json:"id"`
	Kind      string          `json:"kind"`
	UserID    uuid.UUID       `json:"userId"`
	Channel   string          `json:"channel"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

// NewDelivery marshals payload into a fresh Delivery.
func NewDelivery(kind string, userID uuid.UUID, channel string, payload any) (*Delivery, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", channel, err)
	}
	return &Delivery{
		ID:        uuid.New(),
		Kind:      kind,
		UserID:    userID,
		Channel:   channel,
		Payload:   raw,
		CreatedAt: time.Now(),
	}, nil
}

// PushPayload is a multicast push to every token in Tokens.
type PushPayload struct {
	Notification PushNotification  `json:"notification"`
	Data         map[string]string `json:"data"`
	Android      AndroidConfig     `json:"android"`
	Tokens       []string          `json:"tokens"`
}

// PushNotification is the visible part of a push.
type PushNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// AndroidConfig carries Android delivery hints.
type AndroidConfig struct {
	Priority     string              `json:"priority"`
	Notification AndroidNotification `json:"notification"`
}

// AndroidNotification is the Android display config.
type AndroidNotification struct {
	Sound     string `json:"sound"`
	Color     string `json:"color"`
	ChannelID string `json:"channelId,omitempty"`
}

// EmailPayload represents the structure of an email notification
type EmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// WebhookPayload represents the structure of a webhook notification
type WebhookPayload struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    json.RawMessage   `json:"body"`
	Timeout int               `json:"timeout_sec"`
}
