package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func mustDelivery(t *testing.T, channel string, payload any) *Delivery {
	t.Helper()
	d, err := NewDelivery("test", uuid.New(), channel, payload)
	if err != nil {
		t.Fatalf("NewDelivery: %v", err)
	}
	return d
}

func TestMultiSenderRouting(t *testing.T) {
	logger := zap.NewNop()
	multi := NewMultiSender(logger,
		NewPushSender(&fakePublisher{}, logger),
		NewWebhookSender(logger, WebhookConfig{}),
	)

	tests := []struct {
		name    string
		channel string
		should  bool
	}{
		{"push_supported", ChannelPush, true},
		{"webhook_supported", ChannelWebhook, true},
		{"email_not_supported", ChannelEmail, false},
		{"sms_not_supported", "sms", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := multi.SupportsChannel(tt.channel); got != tt.should {
				t.Errorf("SupportsChannel(%s) = %v, want %v", tt.channel, got, tt.should)
			}
		})
	}
}

func TestMultiSender_NoRoute(t *testing.T) {
	multi := NewMultiSender(zap.NewNop(), NewLogSender(zap.NewNop(), ChannelPush))
	d := mustDelivery(t, ChannelEmail, EmailPayload{To: "a@b.c", Subject: "s"})

	if err := multi.Send(context.Background(), d); err == nil {
		t.Fatal("expected error for unrouted channel")
	}
}

func TestLogSender_Channels(t *testing.T) {
	all := NewLogSender(zap.NewNop())
	only := NewLogSender(zap.NewNop(), ChannelEmail)

	if !all.SupportsChannel(ChannelPush) || !all.SupportsChannel(ChannelWebhook) {
		t.Error("default log sender should support every channel")
	}
	if only.SupportsChannel(ChannelPush) {
		t.Error("restricted log sender should not support push")
	}
	if !only.SupportsChannel(ChannelEmail) {
		t.Error("restricted log sender should support email")
	}
}

type fakePublisher struct {
	mu       sync.Mutex
	failFor  map[string]bool
	tokens   []string
	messages []string
}

func (f *fakePublisher) PublishToToken(ctx context.Context, token, message string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[token] {
		return "", errors.New("endpoint disabled")
	}
	f.tokens = append(f.tokens, token)
	f.messages = append(f.messages, message)
	return "msg-" + token, nil
}

func testPush(tokens ...string) PushPayload {
	return PushPayload{
		Notification: PushNotification{Title: "Check-in reminder", Body: "Your 09:00 check-in opens soon"},
		Data:         map[string]string{"type": "checkin_upcoming", "screen": "CheckIn"},
		Android: AndroidConfig{
			Priority:     "high",
			Notification: AndroidNotification{Sound: "default", Color: "#2E7D32", ChannelID: "reminders"},
		},
		Tokens: tokens,
	}
}

func TestPushSender_Multicast(t *testing.T) {
	tests := []struct {
		name    string
		tokens  []string
		failFor map[string]bool
		wantErr bool
		sent    int
	}{
		{"all_succeed", []string{"t1", "t2"}, nil, false, 2},
		{"partial_failure", []string{"t1", "t2"}, map[string]bool{"t1": true}, false, 1},
		{"all_fail", []string{"t1", "t2"}, map[string]bool{"t1": true, "t2": true}, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{failFor: tt.failFor}
			sender := NewPushSender(pub, zap.NewNop())

			err := sender.Send(context.Background(), mustDelivery(t, ChannelPush, testPush(tt.tokens...)))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Send() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(pub.tokens) != tt.sent {
				t.Errorf("expected %d published, got %d", tt.sent, len(pub.tokens))
			}
		})
	}
}

func TestPushSender_NoTokens(t *testing.T) {
	sender := NewPushSender(&fakePublisher{}, zap.NewNop())
	err := sender.Send(context.Background(), mustDelivery(t, ChannelPush, testPush()))
	if !errors.Is(err, ErrNoTokens) {
		t.Fatalf("expected ErrNoTokens, got %v", err)
	}
}

func TestPushSender_WrongChannel(t *testing.T) {
	sender := NewPushSender(&fakePublisher{}, zap.NewNop())
	if err := sender.Send(context.Background(), mustDelivery(t, ChannelEmail, testPush("t1"))); err == nil {
		t.Fatal("expected error for email delivery")
	}
}

func TestRenderPushMessage(t *testing.T) {
	msg, err := RenderPushMessage(testPush("t1"))
	if err != nil {
		t.Fatalf("RenderPushMessage: %v", err)
	}

	var outer map[string]string
	if err := json.Unmarshal([]byte(msg), &outer); err != nil {
		t.Fatalf("outer message is not JSON: %v", err)
	}
	if outer["default"] != "Check-in reminder: Your 09:00 check-in opens soon" {
		t.Errorf("unexpected default text %q", outer["default"])
	}

	var gcm struct {
		Notification PushNotification  `json:"notification"`
		Data         map[string]string `json:"data"`
		Android      AndroidConfig     `json:"android"`
		Tokens       []string          `json:"tokens"`
	}
	if err := json.Unmarshal([]byte(outer["GCM"]), &gcm); err != nil {
		t.Fatalf("GCM body is not JSON: %v", err)
	}
	if gcm.Android.Notification.ChannelID != "reminders" {
		t.Errorf("expected channel id reminders, got %q", gcm.Android.Notification.ChannelID)
	}
	if gcm.Data["screen"] != "CheckIn" {
		t.Errorf("expected screen CheckIn, got %q", gcm.Data["screen"])
	}
	if len(gcm.Tokens) != 0 {
		t.Error("tokens should not leak into the device message")
	}
}

type fakeSES struct {
	input *ses.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &ses.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

func TestSESSender(t *testing.T) {
	tests := []struct {
		name    string
		payload EmailPayload
		sesErr  error
		wantErr bool
	}{
		{"valid", EmailPayload{To: "cm@example.com", Subject: "SOS", Body: "help"}, nil, false},
		{"missing_to", EmailPayload{Subject: "SOS"}, nil, true},
		{"missing_subject", EmailPayload{To: "cm@example.com"}, nil, true},
		{"provider_error", EmailPayload{To: "cm@example.com", Subject: "SOS"}, errors.New("throttled"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeSES{err: tt.sesErr}
			sender := NewSESSenderWithClient(client, "alerts@carecircle.local", zap.NewNop())

			err := sender.Send(context.Background(), mustDelivery(t, ChannelEmail, tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Send() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.name == "valid" {
				if got := aws.ToString(client.input.Source); got != "alerts@carecircle.local" {
					t.Errorf("expected source alerts@carecircle.local, got %s", got)
				}
				if client.input.Destination.ToAddresses[0] != "cm@example.com" {
					t.Errorf("unexpected destination %v", client.input.Destination.ToAddresses)
				}
			}
		})
	}
}

func TestWebhookSender_Success(t *testing.T) {
	var gotBody string
	var gotKind string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotKind = r.Header.Get("X-CareCircle-Kind")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sender := NewWebhookSender(zap.NewNop(), WebhookConfig{})
	d := mustDelivery(t, ChannelWebhook, WebhookPayload{
		URL:  server.URL,
		Body: json.RawMessage(`{"type":"sos"}`),
	})

	if err := sender.Send(context.Background(), d); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if gotBody != `{"type":"sos"}` {
		t.Errorf("unexpected body %q", gotBody)
	}
	if gotKind != "test" {
		t.Errorf("expected kind header test, got %q", gotKind)
	}
}

func TestWebhookSender_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	tests := []struct {
		name    string
		payload WebhookPayload
		wantMsg string
	}{
		{"non_2xx", WebhookPayload{URL: server.URL}, "non-2xx"},
		{"missing_url", WebhookPayload{}, "missing url"},
		{"bad_method", WebhookPayload{URL: server.URL, Method: "DELETE"}, "not supported"},
	}

	sender := NewWebhookSender(zap.NewNop(), WebhookConfig{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sender.Send(context.Background(), mustDelivery(t, ChannelWebhook, tt.payload))
			if err == nil || !strings.Contains(err.Error(), tt.wantMsg) {
				t.Fatalf("expected error containing %q, got %v", tt.wantMsg, err)
			}
		})
	}
}
