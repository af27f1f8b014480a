package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	settings "powerstation-cloud/internal/settings/domain"
)

// SettingsRepository stores per-user collection and notification
// preferences. Rows are created lazily with defaults on first access.
type SettingsRepository struct {
	db *sql.DB
}

// NewSettingsRepository constructs a repository.
func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// GetOrCreateCollection loads a user's collection settings, inserting the
// defaults when the user has none yet.
func (r *SettingsRepository) GetOrCreateCollection(ctx context.Context, userID string) (*settings.CollectionSetting, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("settings repo: nil db")
	}
	if userID == "" {
		return nil, errors.New("settings repo: empty user id")
	}
	defaults := settings.DefaultCollectionSetting(userID)
	_, err := r.db.ExecContext(ctx, `
INSERT INTO collection_settings (
	user_id, retention_period_days, auto_cleanup_enabled, collection_interval_minutes, updated_at
) VALUES (
	$1, $2, $3, $4, $5
)
ON CONFLICT (user_id) DO NOTHING`,
		userID,
		defaults.RetentionPeriodDays,
		defaults.AutoCleanupEnabled,
		defaults.CollectionIntervalMinutes,
		time.Now().UTC(),
	)
	if err != nil {
		return nil, err
	}

	row := r.db.QueryRowContext(ctx, `
SELECT user_id, retention_period_days, auto_cleanup_enabled, collection_interval_minutes,
	last_collection_at, last_cleanup_at, updated_at
FROM collection_settings
WHERE user_id = $1`, userID)

	var setting settings.CollectionSetting
	var lastCollection, lastCleanup sql.NullTime
	if err := row.Scan(
		&setting.UserID,
		&setting.RetentionPeriodDays,
		&setting.AutoCleanupEnabled,
		&setting.CollectionIntervalMinutes,
		&lastCollection,
		&lastCleanup,
		&setting.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if lastCollection.Valid {
		setting.LastCollectionAt = lastCollection.Time.UTC()
	}
	if lastCleanup.Valid {
		setting.LastCleanupAt = lastCleanup.Time.UTC()
	}
	setting.UpdatedAt = setting.UpdatedAt.UTC()
	return &setting, nil
}

// UpdateCollection replaces a user's collection preferences.
func (r *SettingsRepository) UpdateCollection(ctx context.Context, setting *settings.CollectionSetting) error {
	if r == nil || r.db == nil {
		return errors.New("settings repo: nil db")
	}
	if setting == nil {
		return errors.New("settings repo: nil setting")
	}
	if err := setting.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO collection_settings (
	user_id, retention_period_days, auto_cleanup_enabled, collection_interval_minutes, updated_at
) VALUES (
	$1, $2, $3, $4, $5
)
ON CONFLICT (user_id)
DO UPDATE SET
	retention_period_days = EXCLUDED.retention_period_days,
	auto_cleanup_enabled = EXCLUDED.auto_cleanup_enabled,
	collection_interval_minutes = EXCLUDED.collection_interval_minutes,
	updated_at = EXCLUDED.updated_at`,
		setting.UserID,
		setting.RetentionPeriodDays,
		setting.AutoCleanupEnabled,
		setting.CollectionIntervalMinutes,
		time.Now().UTC(),
	)
	return err
}

// MarkCollected advances the user's last collection stamp.
func (r *SettingsRepository) MarkCollected(ctx context.Context, userID string, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("settings repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE collection_settings
SET last_collection_at = $1, updated_at = $2
WHERE user_id = $3`, at, time.Now().UTC(), userID)
	return err
}

// MarkCleanup advances the user's last cleanup stamp.
func (r *SettingsRepository) MarkCleanup(ctx context.Context, userID string, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("settings repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE collection_settings
SET last_cleanup_at = $1, updated_at = $2
WHERE user_id = $3`, at, time.Now().UTC(), userID)
	return err
}

// ListAutoCleanupEnabled returns the settings of every user whose data is
// subject to the retention sweep.
func (r *SettingsRepository) ListAutoCleanupEnabled(ctx context.Context) ([]settings.CollectionSetting, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("settings repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT user_id, retention_period_days, auto_cleanup_enabled, collection_interval_minutes,
	last_collection_at, last_cleanup_at, updated_at
FROM collection_settings
WHERE auto_cleanup_enabled = TRUE
ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []settings.CollectionSetting
	for rows.Next() {
		var setting settings.CollectionSetting
		var lastCollection, lastCleanup sql.NullTime
		if err := rows.Scan(
			&setting.UserID,
			&setting.RetentionPeriodDays,
			&setting.AutoCleanupEnabled,
			&setting.CollectionIntervalMinutes,
			&lastCollection,
			&lastCleanup,
			&setting.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if lastCollection.Valid {
			setting.LastCollectionAt = lastCollection.Time.UTC()
		}
		if lastCleanup.Valid {
			setting.LastCleanupAt = lastCleanup.Time.UTC()
		}
		result = append(result, setting)
	}
	return result, rows.Err()
}

// GetOrCreateNotification loads a user's alert thresholds, inserting the
// defaults when absent.
func (r *SettingsRepository) GetOrCreateNotification(ctx context.Context, userID string) (*settings.NotificationSetting, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("settings repo: nil db")
	}
	if userID == "" {
		return nil, errors.New("settings repo: empty user id")
	}
	defaults := settings.DefaultNotificationSetting(userID)
	_, err := r.db.ExecContext(ctx, `
INSERT INTO notification_settings (
	user_id, low_battery_enabled, low_battery_threshold_pct,
	power_overload_enabled, power_threshold_watts,
	device_offline_enabled, email_enabled, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8
)
ON CONFLICT (user_id) DO NOTHING`,
		userID,
		defaults.LowBatteryEnabled,
		defaults.LowBatteryThresholdPct,
		defaults.PowerOverloadEnabled,
		defaults.PowerThresholdWatts,
		defaults.DeviceOfflineEnabled,
		defaults.EmailEnabled,
		time.Now().UTC(),
	)
	if err != nil {
		return nil, err
	}

	row := r.db.QueryRowContext(ctx, `
SELECT user_id, low_battery_enabled, low_battery_threshold_pct,
	power_overload_enabled, power_threshold_watts,
	device_offline_enabled, email_enabled, updated_at
FROM notification_settings
WHERE user_id = $1`, userID)

	var setting settings.NotificationSetting
	if err := row.Scan(
		&setting.UserID,
		&setting.LowBatteryEnabled,
		&setting.LowBatteryThresholdPct,
		&setting.PowerOverloadEnabled,
		&setting.PowerThresholdWatts,
		&setting.DeviceOfflineEnabled,
		&setting.EmailEnabled,
		&setting.UpdatedAt,
	); err != nil {
		return nil, err
	}
	setting.UpdatedAt = setting.UpdatedAt.UTC()
	return &setting, nil
}

// UpdateNotification replaces a user's alert thresholds.
func (r *SettingsRepository) UpdateNotification(ctx context.Context, setting *settings.NotificationSetting) error {
	if r == nil || r.db == nil {
		return errors.New("settings repo: nil db")
	}
	if setting == nil {
		return errors.New("settings repo: nil setting")
	}
	if setting.UserID == "" {
		return errors.New("settings repo: empty user id")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO notification_settings (
	user_id, low_battery_enabled, low_battery_threshold_pct,
	power_overload_enabled, power_threshold_watts,
	device_offline_enabled, email_enabled, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8
)
ON CONFLICT (user_id)
DO UPDATE SET
	low_battery_enabled = EXCLUDED.low_battery_enabled,
	low_battery_threshold_pct = EXCLUDED.low_battery_threshold_pct,
	power_overload_enabled = EXCLUDED.power_overload_enabled,
	power_threshold_watts = EXCLUDED.power_threshold_watts,
	device_offline_enabled = EXCLUDED.device_offline_enabled,
	email_enabled = EXCLUDED.email_enabled,
	updated_at = EXCLUDED.updated_at`,
		setting.UserID,
		setting.LowBatteryEnabled,
		setting.LowBatteryThresholdPct,
		setting.PowerOverloadEnabled,
		setting.PowerThresholdWatts,
		setting.DeviceOfflineEnabled,
		setting.EmailEnabled,
		time.Now().UTC(),
	)
	return err
}
