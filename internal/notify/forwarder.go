package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/carecircle/internal/db"
	"github.com/lalithlochan/carecircle/internal/worker"
)

// AlertStore stamps forwarded alerts.
type AlertStore interface {
	MarkAlertForwarded(ctx context.Context, id uuid.UUID, at time.Time) error
}

// ForwarderConfig configures alert forwarding.
type ForwarderConfig struct {
	// WebhookURL receives every alert when set.
	WebhookURL string
	Location   *time.Location
	Now        func() time.Time
}

// Forwarder fans a new alert out to the senior's carers: push to the care
// manager and family, email to the care manager, and the agency webhook.
type Forwarder struct {
	notifier *Notifier
	alerts   AlertStore
	sender   worker.Sender
	config   ForwarderConfig
	logger   *zap.Logger
}

// NewForwarder creates a Forwarder. sender handles the email and webhook
// channels.
func NewForwarder(notifier *Notifier, alerts AlertStore, sender worker.Sender, cfg ForwarderConfig, logger *zap.Logger) *Forwarder {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Forwarder{
		notifier: notifier,
		alerts:   alerts,
		sender:   sender,
		config:   cfg,
		logger:   logger,
	}
}

var alertTitles = map[string]string{
	db.AlertSOS:    "SOS alert",
	db.AlertFall:   "Fall detected",
	db.AlertHealth: "Health alert",
}

// Forward delivers alert on every channel and reports whether any channel
// succeeded. Channel failures are logged, never returned.
func (f *Forwarder) Forward(ctx context.Context, alert *db.Alert) bool {
	log := f.logger.With(
		zap.String("alert_id", alert.ID.String()),
		zap.String("type", alert.Type),
	)

	senior, err := f.notifier.audience.User(ctx, alert.UserID)
	if err != nil {
		log.Error("failed to load senior for alert", zap.Error(err))
		return false
	}
	loc := senior.Location(f.config.Location)

	title := alertTitles[alert.Type]
	if title == "" {
		title = "Alert"
	}
	body := fmt.Sprintf("%s needs attention", senior.Name)
	if alert.Message != "" {
		body = fmt.Sprintf("%s: %s", senior.Name, alert.Message)
	}

	forwarded := false

	outcome, err := f.notifier.Notify(ctx, Notice{
		Kind:     KindAlert,
		EntityID: alert.ID,
		SeniorID: senior.ID,
		Slot:     alert.Type,
		Date:     alert.CreatedAt.In(loc),
		Audience: AudienceCarers,
		Title:    title,
		Body:     body,
		Data:     map[string]string{"alertId": alert.ID.String(), "alertType": alert.Type},
	})
	if err != nil {
		log.Error("alert push failed", zap.Error(err))
	}
	if outcome == Sent || outcome == SkippedDuplicate {
		forwarded = true
	}

	if f.sendEmail(ctx, senior, alert, title, body) {
		forwarded = true
	}
	if f.sendWebhook(ctx, senior, alert) {
		forwarded = true
	}

	if !forwarded {
		log.Warn("alert not forwarded on any channel")
		return false
	}

	if err := f.alerts.MarkAlertForwarded(ctx, alert.ID, f.config.Now()); err != nil {
		log.Error("failed to mark alert forwarded", zap.Error(err))
	}
	return true
}

func (f *Forwarder) sendEmail(ctx context.Context, senior *db.User, alert *db.Alert, title, body string) bool {
	if senior.CareManagerID == nil {
		return false
	}
	manager, err := f.notifier.audience.User(ctx, *senior.CareManagerID)
	if err != nil || manager.Email == "" {
		return false
	}

	d, err := worker.NewDelivery(KindAlert, manager.ID, worker.ChannelEmail, worker.EmailPayload{
		To:      manager.Email,
		Subject: fmt.Sprintf("[CareCircle] %s for %s", title, senior.Name),
		Body: strings.Join([]string{
			body,
			"",
			"Raised at " + alert.CreatedAt.In(senior.Location(f.config.Location)).Format("02 Jan 2006 15:04 MST"),
		}, "\n"),
	})
	if err == nil {
		err = f.sender.Send(ctx, d)
	}
	if err != nil {
		f.logger.Error("alert email failed", zap.String("alert_id", alert.ID.String()), zap.Error(err))
		return false
	}
	return true
}

type webhookAlert struct {
	AlertID   uuid.UUID `json:"alertId"`
	SeniorID  uuid.UUID `json:"seniorId"`
	Senior    string    `json:"seniorName"`
	Type      string    `json:"type"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (f *Forwarder) sendWebhook(ctx context.Context, senior *db.User, alert *db.Alert) bool {
	if f.config.WebhookURL == "" {
		return false
	}

	body, err := json.Marshal(webhookAlert{
		AlertID:   alert.ID,
		SeniorID:  senior.ID,
		Senior:    senior.Name,
		Type:      alert.Type,
		Message:   alert.Message,
		CreatedAt: alert.CreatedAt,
	})
	if err != nil {
		return false
	}

	d, err := worker.NewDelivery(KindAlert, senior.ID, worker.ChannelWebhook, worker.WebhookPayload{
		URL:  f.config.WebhookURL,
		Body: body,
	})
	if err == nil {
		err = f.sender.Send(ctx, d)
	}
	if err != nil {
		f.logger.Error("alert webhook failed", zap.String("alert_id", alert.ID.String()), zap.Error(err))
		return false
	}
	return true
}
