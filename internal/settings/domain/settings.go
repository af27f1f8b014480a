package settings

import (
	"errors"
	"time"
)

// Collection defaults applied when a user row is created lazily.
const (
	DefaultRetentionDays      = 90
	DefaultIntervalMinutes    = 5
	DefaultAutoCleanupEnabled = true
)

// Alert threshold defaults.
const (
	DefaultLowBatteryThresholdPct = 20.0
	DefaultPowerThresholdWatts    = 1500.0
)

// CollectionSetting holds per-user collection and retention preferences.
// One row per user, created on first access.
type CollectionSetting struct {
	UserID                    string
	RetentionPeriodDays       int
	AutoCleanupEnabled        bool
	CollectionIntervalMinutes int
	LastCollectionAt          time.Time
	LastCleanupAt             time.Time
	UpdatedAt                 time.Time
}

// Validate checks preference invariants.
func (s CollectionSetting) Validate() error {
	if s.UserID == "" {
		return errors.New("collection setting: empty user id")
	}
	if s.RetentionPeriodDays <= 0 {
		return errors.New("collection setting: retention must be positive")
	}
	if s.CollectionIntervalMinutes <= 0 {
		return errors.New("collection setting: interval must be positive")
	}
	return nil
}

// Interval returns the collection interval as a duration.
func (s CollectionSetting) Interval() time.Duration {
	return time.Duration(s.CollectionIntervalMinutes) * time.Minute
}

// NotificationSetting holds per-user alert thresholds.
type NotificationSetting struct {
	UserID                 string
	LowBatteryEnabled      bool
	LowBatteryThresholdPct float64
	PowerOverloadEnabled   bool
	PowerThresholdWatts    float64
	DeviceOfflineEnabled   bool
	EmailEnabled           bool
	UpdatedAt              time.Time
}

// Validate checks threshold invariants.
func (s NotificationSetting) Validate() error {
	if s.UserID == "" {
		return errors.New("notification setting: empty user id")
	}
	if s.LowBatteryThresholdPct < 0 || s.LowBatteryThresholdPct > 100 {
		return errors.New("notification setting: battery threshold out of range")
	}
	if s.PowerThresholdWatts <= 0 {
		return errors.New("notification setting: power threshold must be positive")
	}
	return nil
}

// DefaultCollectionSetting builds the lazy-creation defaults for a user.
func DefaultCollectionSetting(userID string) CollectionSetting {
	return CollectionSetting{
		UserID:                    userID,
		RetentionPeriodDays:       DefaultRetentionDays,
		AutoCleanupEnabled:        DefaultAutoCleanupEnabled,
		CollectionIntervalMinutes: DefaultIntervalMinutes,
	}
}

// DefaultNotificationSetting builds the lazy-creation defaults for a user.
func DefaultNotificationSetting(userID string) NotificationSetting {
	return NotificationSetting{
		UserID:                 userID,
		LowBatteryEnabled:      true,
		LowBatteryThresholdPct: DefaultLowBatteryThresholdPct,
		PowerOverloadEnabled:   true,
		PowerThresholdWatts:    DefaultPowerThresholdWatts,
		DeviceOfflineEnabled:   true,
		EmailEnabled:           true,
	}
}
