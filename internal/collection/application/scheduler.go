package application

import (
	"context"
	"errors"
	"time"

	settings "powerstation-cloud/internal/settings/domain"
)

// SettingsReader loads per-user collection preferences.
type SettingsReader interface {
	GetOrCreateCollection(ctx context.Context, userID string) (*settings.CollectionSetting, error)
}

// Decision is the outcome of a due-check. RetryAfter carries the
// remaining wait so callers can report it without re-deriving.
type Decision struct {
	Due        bool
	RetryAfter time.Duration
}

// Scheduler decides, per user, whether a new collection round is due.
// It never mutates lastCollectionAt itself: the collector advances the
// stamp only after a successful round, so a failed round retries on the
// next tick instead of waiting out a full interval.
type Scheduler struct {
	settings SettingsReader
}

// NewScheduler constructs a scheduler.
func NewScheduler(settingsReader SettingsReader) (*Scheduler, error) {
	if settingsReader == nil {
		return nil, errors.New("scheduler: nil settings reader")
	}
	return &Scheduler{settings: settingsReader}, nil
}

// IsDue reports whether the user's next round is due at now. The
// interval boundary is inclusive; force bypasses the interval entirely.
func (s *Scheduler) IsDue(ctx context.Context, userID string, now time.Time, force bool) (Decision, error) {
	if s == nil || s.settings == nil {
		return Decision{}, errors.New("scheduler: nil settings reader")
	}
	if force {
		return Decision{Due: true}, nil
	}
	setting, err := s.settings.GetOrCreateCollection(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	if setting.LastCollectionAt.IsZero() {
		return Decision{Due: true}, nil
	}
	elapsed := now.Sub(setting.LastCollectionAt)
	interval := setting.Interval()
	if elapsed >= interval {
		return Decision{Due: true}, nil
	}
	return Decision{Due: false, RetryAfter: interval - elapsed}, nil
}
