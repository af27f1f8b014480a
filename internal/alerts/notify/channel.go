package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Message is one rendered notification ready for delivery.
type Message struct {
	To      string
	Subject string
	Body    string
	Kind    string
}

// Channel delivers rendered messages. Delivery infrastructure (mail
// relay, push gateway) sits behind this interface outside the engine.
type Channel interface {
	Send(ctx context.Context, message Message) (messageID string, err error)
}

type webhookPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Kind    string `json:"kind"`
}

type webhookResponse struct {
	MessageID string `json:"message_id"`
}

// WebhookChannel forwards messages to a delivery gateway over HTTP.
type WebhookChannel struct {
	url    string
	client *http.Client
}

// WebhookOption configures the webhook channel.
type WebhookOption func(*WebhookChannel)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(ch *WebhookChannel) {
		if client != nil {
			ch.client = client
		}
	}
}

// NewWebhookChannel constructs a webhook channel.
func NewWebhookChannel(url string, opts ...WebhookOption) (*WebhookChannel, error) {
	if url == "" {
		return nil, errors.New("webhook channel: empty url")
	}
	channel := &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(channel)
	}
	return channel, nil
}

// Send posts the message to the gateway.
func (w *WebhookChannel) Send(ctx context.Context, message Message) (string, error) {
	if w == nil || w.url == "" {
		return "", errors.New("webhook channel: empty url")
	}
	if message.To == "" {
		return "", errors.New("webhook channel: empty recipient")
	}
	body, err := json.Marshal(webhookPayload{
		To:      message.To,
		Subject: message.Subject,
		Body:    message.Body,
		Kind:    message.Kind,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("webhook channel: non-2xx response %d", resp.StatusCode)
	}
	var decoded webhookResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		// A gateway that returns an empty body is still a success.
		return "", nil
	}
	return decoded.MessageID, nil
}
