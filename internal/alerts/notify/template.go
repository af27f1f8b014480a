package notify

import (
	"bytes"
	"errors"
	"text/template"

	alerts "powerstation-cloud/internal/alerts/domain"
)

const DefaultTemplate = `[{{.KindLabel}}] {{.Device}}
Device: {{.Device}}
Current Value: {{.CurrentValue}}
Threshold: {{.Threshold}}
Time: {{.OccurredAt}}
`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	Device       string
	DeviceID     string
	Kind         string
	KindLabel    string
	CurrentValue string
	Threshold    string
	OccurredAt   string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to
// DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("alert-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("alert template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// KindLabel returns a human-readable label for an alert kind.
func KindLabel(kind string) string {
	switch kind {
	case alerts.KindLowBattery:
		return "Low Battery"
	case alerts.KindPowerOverload:
		return "Power Overload"
	case alerts.KindDeviceOffline:
		return "Device Offline"
	default:
		return kind
	}
}
