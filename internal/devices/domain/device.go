package devices

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

// ErrNotFound indicates a missing device record.
var ErrNotFound = errors.New("device: not found")

// Device is a registered power station. A device is soft-disabled by
// clearing IsActive; an explicit unregister removes the row entirely.
type Device struct {
	ID           string
	UserID       string
	SerialNumber string
	Name         string
	Type         string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewID generates a random device id.
func NewID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return "dev-" + hex.EncodeToString(buf)
}

// Validate checks registration invariants.
func (d Device) Validate() error {
	if d.ID == "" {
		return errors.New("device: empty id")
	}
	if d.UserID == "" {
		return errors.New("device: empty user id")
	}
	if d.SerialNumber == "" {
		return errors.New("device: empty serial number")
	}
	return nil
}
