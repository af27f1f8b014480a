package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	alerts "powerstation-cloud/internal/alerts/domain"
)

func sampleEvent() alerts.Event {
	return alerts.Event{
		UserID:       "user-1",
		DeviceID:     "dev-1",
		DeviceName:   "River 2",
		Kind:         alerts.KindLowBattery,
		CurrentValue: 15,
		Threshold:    20,
		OccurredAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestWebhookChannelPostsPayload(t *testing.T) {
	var received webhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s, want application/json", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"message_id": "gw-42"})
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	if err != nil {
		t.Fatalf("NewWebhookChannel: %v", err)
	}
	id, err := channel.Send(context.Background(), Message{
		To:      "owner@example.com",
		Subject: "[Low Battery] River 2",
		Body:    "battery at 15%",
		Kind:    alerts.KindLowBattery,
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id != "gw-42" {
		t.Fatalf("message id = %q, want gw-42", id)
	}
	if received.To != "owner@example.com" || received.Kind != alerts.KindLowBattery {
		t.Fatalf("payload = %+v", received)
	}
}

func TestWebhookChannelEmptyBodyIsSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	if err != nil {
		t.Fatalf("NewWebhookChannel: %v", err)
	}
	if _, err := channel.Send(context.Background(), Message{To: "owner@example.com"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestWebhookChannelNon2xxIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	if err != nil {
		t.Fatalf("NewWebhookChannel: %v", err)
	}
	if _, err := channel.Send(context.Background(), Message{To: "owner@example.com"}); err == nil {
		t.Fatal("expected error on 503")
	}
}

type captureChannel struct {
	message Message
}

func (c *captureChannel) Send(ctx context.Context, message Message) (string, error) {
	c.message = message
	return "msg-1", nil
}

func TestNotifierRendersDefaultTemplate(t *testing.T) {
	channel := &captureChannel{}
	notifier, err := NewNotifier(channel, nil)
	if err != nil {
		t.Fatalf("NewNotifier: %v", err)
	}

	id, err := notifier.Notify(context.Background(), sampleEvent(), "owner@example.com")
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if id != "msg-1" {
		t.Fatalf("message id = %q, want msg-1", id)
	}
	if channel.message.Subject != "[Low Battery] River 2" {
		t.Fatalf("subject = %q", channel.message.Subject)
	}
	for _, want := range []string{"River 2", "15%", "20%", "2026-03-01T12:00:00Z"} {
		if !strings.Contains(channel.message.Body, want) {
			t.Fatalf("body missing %q:\n%s", want, channel.message.Body)
		}
	}
}

func TestNotifierFormatsOverloadInWatts(t *testing.T) {
	channel := &captureChannel{}
	notifier, err := NewNotifier(channel, nil)
	if err != nil {
		t.Fatalf("NewNotifier: %v", err)
	}

	event := sampleEvent()
	event.Kind = alerts.KindPowerOverload
	event.CurrentValue = 1820
	event.Threshold = 1500
	if _, err := notifier.Notify(context.Background(), event, "owner@example.com"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if !strings.Contains(channel.message.Body, "1820W") || !strings.Contains(channel.message.Body, "1500W") {
		t.Fatalf("body missing watt values:\n%s", channel.message.Body)
	}
}

func TestNotifierFallsBackToDeviceID(t *testing.T) {
	channel := &captureChannel{}
	notifier, err := NewNotifier(channel, nil)
	if err != nil {
		t.Fatalf("NewNotifier: %v", err)
	}

	event := sampleEvent()
	event.DeviceName = ""
	if _, err := notifier.Notify(context.Background(), event, "owner@example.com"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if !strings.Contains(channel.message.Subject, "dev-1") {
		t.Fatalf("subject = %q, want device id fallback", channel.message.Subject)
	}
}

func TestNotifierCustomTemplate(t *testing.T) {
	tpl, err := NewTemplate("{{.KindLabel}}: {{.Device}} at {{.CurrentValue}}")
	if err != nil {
		t.Fatalf("NewTemplate: %v", err)
	}
	channel := &captureChannel{}
	notifier, err := NewNotifier(channel, tpl)
	if err != nil {
		t.Fatalf("NewNotifier: %v", err)
	}
	if _, err := notifier.Notify(context.Background(), sampleEvent(), "owner@example.com"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if channel.message.Body != "Low Battery: River 2 at 15%" {
		t.Fatalf("body = %q", channel.message.Body)
	}
}

func TestNotifierRequiresAddress(t *testing.T) {
	notifier, err := NewNotifier(&captureChannel{}, nil)
	if err != nil {
		t.Fatalf("NewNotifier: %v", err)
	}
	if _, err := notifier.Notify(context.Background(), sampleEvent(), ""); err == nil {
		t.Fatal("expected error for empty address")
	}
}
