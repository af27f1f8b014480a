package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	alerts "powerstation-cloud/internal/alerts/domain"
)

// Notifier renders an alert event and hands it to the delivery channel.
type Notifier struct {
	channel  Channel
	template *Template
	subject  func(event alerts.Event) string
}

// NotifierOption configures the notifier.
type NotifierOption func(*Notifier)

// WithSubject overrides subject line construction.
func WithSubject(subject func(event alerts.Event) string) NotifierOption {
	return func(n *Notifier) {
		if subject != nil {
			n.subject = subject
		}
	}
}

// NewNotifier constructs a notifier.
func NewNotifier(channel Channel, template *Template, opts ...NotifierOption) (*Notifier, error) {
	if channel == nil {
		return nil, errors.New("alert notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		channel:  channel,
		template: template,
		subject:  defaultSubject,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify delivers one alert event to the given address.
func (n *Notifier) Notify(ctx context.Context, event alerts.Event, toAddress string) (string, error) {
	if n == nil || n.channel == nil {
		return "", errors.New("alert notifier: nil channel")
	}
	if toAddress == "" {
		return "", errors.New("alert notifier: empty address")
	}
	device := event.DeviceName
	if device == "" {
		device = event.DeviceID
	}
	body, err := n.template.Render(TemplateData{
		Device:       device,
		DeviceID:     event.DeviceID,
		Kind:         event.Kind,
		KindLabel:    KindLabel(event.Kind),
		CurrentValue: formatValue(event.Kind, event.CurrentValue),
		Threshold:    formatValue(event.Kind, event.Threshold),
		OccurredAt:   event.OccurredAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", err
	}
	return n.channel.Send(ctx, Message{
		To:      toAddress,
		Subject: n.subject(event),
		Body:    body,
		Kind:    event.Kind,
	})
}

func defaultSubject(event alerts.Event) string {
	device := event.DeviceName
	if device == "" {
		device = event.DeviceID
	}
	return fmt.Sprintf("[%s] %s", KindLabel(event.Kind), device)
}

func formatValue(kind string, value float64) string {
	switch kind {
	case alerts.KindLowBattery:
		return fmt.Sprintf("%.0f%%", value)
	case alerts.KindPowerOverload:
		return fmt.Sprintf("%.0fW", value)
	default:
		return fmt.Sprintf("%.0f", value)
	}
}
