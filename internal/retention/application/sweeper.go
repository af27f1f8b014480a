package application

import (
	"context"
	"errors"
	"log"
	"time"

	"powerstation-cloud/internal/observability/metrics"
	settings "powerstation-cloud/internal/settings/domain"
)

// CleanupPolicies lists users with automatic cleanup enabled.
type CleanupPolicies interface {
	ListAutoCleanupEnabled(ctx context.Context) ([]settings.CollectionSetting, error)
	MarkCleanup(ctx context.Context, userID string, at time.Time) error
}

// RowDeleter removes rows older than a cutoff for one user.
type RowDeleter interface {
	DeleteOlderThan(ctx context.Context, userID string, cutoff time.Time) (int64, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// SweepResult is the outcome of one user's retention sweep.
type SweepResult struct {
	UserID               string
	Cutoff               time.Time
	ReadingsDeleted      int64
	NotificationsDeleted int64
}

// Sweeper deletes telemetry and notification history past each user's
// retention period. The cutoff has day granularity, so re-running the
// sweep within the same day deletes nothing further.
type Sweeper struct {
	policies      CleanupPolicies
	readings      RowDeleter
	notifications RowDeleter
	logger        *log.Logger
	clock         Clock
}

// SweeperOption customizes the sweeper.
type SweeperOption func(*Sweeper)

// WithSweeperClock assigns a clock.
func WithSweeperClock(clock Clock) SweeperOption {
	return func(s *Sweeper) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewSweeper constructs a sweeper.
func NewSweeper(policies CleanupPolicies, readingDeleter, notificationDeleter RowDeleter, logger *log.Logger, opts ...SweeperOption) (*Sweeper, error) {
	if policies == nil {
		return nil, errors.New("sweeper: nil policies")
	}
	if readingDeleter == nil || notificationDeleter == nil {
		return nil, errors.New("sweeper: nil deleter")
	}
	sweeper := &Sweeper{
		policies:      policies,
		readings:      readingDeleter,
		notifications: notificationDeleter,
		logger:        logger,
		clock:         systemClock{},
	}
	for _, opt := range opts {
		opt(sweeper)
	}
	return sweeper, nil
}

// SweepUser removes one user's expired rows. Rows recorded exactly at
// the cutoff survive.
func (s *Sweeper) SweepUser(ctx context.Context, setting settings.CollectionSetting) (SweepResult, error) {
	if s == nil {
		return SweepResult{}, errors.New("sweeper: nil sweeper")
	}
	if setting.UserID == "" {
		return SweepResult{}, errors.New("sweeper: empty user id")
	}
	days := setting.RetentionPeriodDays
	if days <= 0 {
		days = settings.DefaultRetentionDays
	}

	now := s.clock.Now().UTC()
	cutoff := dayCutoff(now, days)
	result := SweepResult{UserID: setting.UserID, Cutoff: cutoff}

	deleted, err := s.readings.DeleteOlderThan(ctx, setting.UserID, cutoff)
	if err != nil {
		metrics.IncRetentionSweep(metrics.ResultFailure)
		return result, err
	}
	result.ReadingsDeleted = deleted
	metrics.AddRetentionDeleted("readings", deleted)

	deleted, err = s.notifications.DeleteOlderThan(ctx, setting.UserID, cutoff)
	if err != nil {
		metrics.IncRetentionSweep(metrics.ResultFailure)
		return result, err
	}
	result.NotificationsDeleted = deleted
	metrics.AddRetentionDeleted("notification_logs", deleted)

	if err := s.policies.MarkCleanup(ctx, setting.UserID, now); err != nil {
		s.printf("mark cleanup failed: user=%s err=%v", setting.UserID, err)
	}
	metrics.IncRetentionSweep(metrics.ResultSuccess)
	return result, nil
}

// SweepAll runs the sweep for every user with auto cleanup enabled.
// Per-user failures are logged and do not stop the pass.
func (s *Sweeper) SweepAll(ctx context.Context) ([]SweepResult, error) {
	if s == nil {
		return nil, errors.New("sweeper: nil sweeper")
	}
	enabled, err := s.policies.ListAutoCleanupEnabled(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]SweepResult, 0, len(enabled))
	for _, setting := range enabled {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result, err := s.SweepUser(ctx, setting)
		if err != nil {
			s.printf("retention sweep failed: user=%s err=%v", setting.UserID, err)
			continue
		}
		results = append(results, result)
	}
	return results, nil
}

func (s *Sweeper) printf(format string, args ...any) {
	if s != nil && s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// dayCutoff truncates now to midnight UTC before subtracting the
// retention period, so the boundary is stable across a day.
func dayCutoff(now time.Time, days int) time.Time {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return midnight.AddDate(0, 0, -days)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
