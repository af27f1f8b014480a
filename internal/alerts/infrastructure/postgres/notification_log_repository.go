package postgres

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	alerts "powerstation-cloud/internal/alerts/domain"
)

const defaultNotificationLogTable = "notification_logs"

// NotificationLogRepository stores notification attempts. The table is
// the suppression state store; dedup checks read it instead of keeping
// send history in memory.
type NotificationLogRepository struct {
	db    *sql.DB
	table string
}

// NewNotificationLogRepository constructs a repository.
func NewNotificationLogRepository(db *sql.DB) *NotificationLogRepository {
	return &NotificationLogRepository{db: db, table: defaultNotificationLogTable}
}

// Insert appends a log entry.
func (r *NotificationLogRepository) Insert(ctx context.Context, entry *alerts.LogEntry) error {
	if r == nil || r.db == nil {
		return errors.New("notification log repo: nil db")
	}
	if entry == nil {
		return errors.New("notification log repo: nil entry")
	}
	if entry.ID == "" {
		entry.ID = BuildLogID(entry.UserID, entry.DeviceID, entry.Kind, entry.SentAt)
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	errText := sql.NullString{}
	if entry.Error != "" {
		errText = sql.NullString{String: entry.Error, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO notification_logs (
	id, user_id, device_id, kind, status, error, sent_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7
)`,
		entry.ID,
		entry.UserID,
		entry.DeviceID,
		entry.Kind,
		entry.Status,
		errText,
		entry.SentAt,
	)
	return err
}

// ExistsSince reports whether any entry for the (user, device, kind) key
// was recorded at or after the given instant. Failed sends count: they
// occupy the suppression window too.
func (r *NotificationLogRepository) ExistsSince(ctx context.Context, userID, deviceID, kind string, since time.Time) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("notification log repo: nil db")
	}
	var exists bool
	err := r.db.QueryRowContext(ctx, `
SELECT EXISTS (
	SELECT 1
	FROM notification_logs
	WHERE user_id = $1 AND device_id = $2 AND kind = $3 AND sent_at >= $4
)`, userID, deviceID, kind, since).Scan(&exists)
	return exists, err
}

// ListByUser returns a user's log entries inside [from, to), newest first.
func (r *NotificationLogRepository) ListByUser(ctx context.Context, userID string, from, to time.Time, limit int) ([]alerts.LogEntry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("notification log repo: nil db")
	}
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, user_id, device_id, kind, status, error, sent_at
FROM notification_logs
WHERE user_id = $1 AND sent_at >= $2 AND sent_at < $3
ORDER BY sent_at DESC
LIMIT $4`, userID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alerts.LogEntry
	for rows.Next() {
		var entry alerts.LogEntry
		var errText sql.NullString
		if err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&entry.DeviceID,
			&entry.Kind,
			&entry.Status,
			&errText,
			&entry.SentAt,
		); err != nil {
			return nil, err
		}
		if errText.Valid {
			entry.Error = errText.String
		}
		entry.SentAt = entry.SentAt.UTC()
		result = append(result, entry)
	}
	return result, rows.Err()
}

// DeleteOlderThan removes a user's log entries recorded strictly before
// the cutoff. Returns the number of rows removed.
func (r *NotificationLogRepository) DeleteOlderThan(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("notification log repo: nil db")
	}
	result, err := r.db.ExecContext(ctx, `
DELETE FROM notification_logs
WHERE user_id = $1 AND sent_at < $2`, userID, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// BuildLogID derives a stable id from the suppression key and timestamp.
func BuildLogID(userID, deviceID, kind string, sentAt time.Time) string {
	sum := sha1.Sum([]byte(userID + "|" + deviceID + "|" + kind + "|" + sentAt.Format(time.RFC3339Nano)))
	return "ntf-" + hex.EncodeToString(sum[:8])
}
