package alerts

import (
	"errors"
	"time"
)

// Alert kinds. Each (user, device, kind) pair is suppressed and logged
// independently.
const (
	KindLowBattery    = "low_battery"
	KindPowerOverload = "power_overload"
	KindDeviceOffline = "device_offline"
)

// Notification log statuses. A failed send still occupies the
// suppression window so a broken channel is not hammered.
const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// ErrNotFound indicates a missing notification log entry.
var ErrNotFound = errors.New("alert: not found")

// Event is a transient threshold crossing produced by evaluation. Events
// are not persisted; only the resulting log entry is.
type Event struct {
	UserID       string
	DeviceID     string
	DeviceName   string
	Kind         string
	CurrentValue float64
	Threshold    float64
	OccurredAt   time.Time
}

// LogEntry is the durable record of a notification attempt. The log
// doubles as the suppression state store: a recent entry for the same
// (user, device, kind) key blocks re-notification.
type LogEntry struct {
	ID       string
	UserID   string
	DeviceID string
	Kind     string
	Status   string
	Error    string
	SentAt   time.Time
}

// Validate checks log entry invariants.
func (e LogEntry) Validate() error {
	if e.ID == "" {
		return errors.New("alert log: empty id")
	}
	if e.UserID == "" || e.DeviceID == "" {
		return errors.New("alert log: missing owner")
	}
	switch e.Kind {
	case KindLowBattery, KindPowerOverload, KindDeviceOffline:
	default:
		return errors.New("alert log: unknown kind")
	}
	switch e.Status {
	case StatusSent, StatusFailed:
	default:
		return errors.New("alert log: unknown status")
	}
	return nil
}
