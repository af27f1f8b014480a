package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	devices "powerstation-cloud/internal/devices/domain"
)

const defaultDevicesTable = "devices"

// DeviceRepository is a Postgres repository for registered devices.
type DeviceRepository struct {
	db    *sql.DB
	table string
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository(db *sql.DB) *DeviceRepository {
	return &DeviceRepository{db: db, table: defaultDevicesTable}
}

// Register inserts or reactivates a device keyed by serial number.
func (r *DeviceRepository) Register(ctx context.Context, device *devices.Device) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if device == nil {
		return errors.New("device repo: nil device")
	}
	if err := device.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	if device.UpdatedAt.IsZero() {
		device.UpdatedAt = now
	}
	// Re-registering an existing serial keeps the stored id, so the
	// caller sees the surviving row's identity.
	return r.db.QueryRowContext(ctx, `
INSERT INTO devices (
	id, user_id, serial_number, name, type, is_active, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8
)
ON CONFLICT (user_id, serial_number)
DO UPDATE SET
	name = EXCLUDED.name,
	type = EXCLUDED.type,
	is_active = EXCLUDED.is_active,
	updated_at = EXCLUDED.updated_at
RETURNING id`,
		device.ID,
		device.UserID,
		device.SerialNumber,
		device.Name,
		device.Type,
		device.IsActive,
		device.CreatedAt,
		device.UpdatedAt,
	).Scan(&device.ID)
}

// ListActiveByUser returns the user's active devices.
func (r *DeviceRepository) ListActiveByUser(ctx context.Context, userID string) ([]devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, user_id, serial_number, name, type, is_active, created_at, updated_at
FROM devices
WHERE user_id = $1 AND is_active = TRUE
ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []devices.Device
	for rows.Next() {
		var device devices.Device
		if err := rows.Scan(
			&device.ID,
			&device.UserID,
			&device.SerialNumber,
			&device.Name,
			&device.Type,
			&device.IsActive,
			&device.CreatedAt,
			&device.UpdatedAt,
		); err != nil {
			return nil, err
		}
		device.CreatedAt = device.CreatedAt.UTC()
		device.UpdatedAt = device.UpdatedAt.UTC()
		result = append(result, device)
	}
	return result, rows.Err()
}

// ListOwners returns the distinct user ids that own at least one active
// device. The collection round iterates this set.
func (r *DeviceRepository) ListOwners(ctx context.Context) ([]string, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT DISTINCT user_id
FROM devices
WHERE is_active = TRUE
ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		owners = append(owners, userID)
	}
	return owners, rows.Err()
}

// GetByID returns one of the user's devices or ErrNotFound.
func (r *DeviceRepository) GetByID(ctx context.Context, userID, deviceID string) (*devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	var device devices.Device
	err := r.db.QueryRowContext(ctx, `
SELECT id, user_id, serial_number, name, type, is_active, created_at, updated_at
FROM devices
WHERE user_id = $1 AND id = $2`, userID, deviceID).Scan(
		&device.ID,
		&device.UserID,
		&device.SerialNumber,
		&device.Name,
		&device.Type,
		&device.IsActive,
		&device.CreatedAt,
		&device.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, devices.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	device.CreatedAt = device.CreatedAt.UTC()
	device.UpdatedAt = device.UpdatedAt.UTC()
	return &device, nil
}

// Deactivate soft-disables a device without losing its history.
func (r *DeviceRepository) Deactivate(ctx context.Context, userID, serialNumber string) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE devices
SET is_active = FALSE, updated_at = $1
WHERE user_id = $2 AND serial_number = $3`, time.Now().UTC(), userID, serialNumber)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return devices.ErrNotFound
	}
	return nil
}

// Unregister hard-deletes a device row. Readings referencing the device
// are removed by the same statement's cascade.
func (r *DeviceRepository) Unregister(ctx context.Context, userID, serialNumber string) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	result, err := r.db.ExecContext(ctx, `
DELETE FROM devices
WHERE user_id = $1 AND serial_number = $2`, userID, serialNumber)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return devices.ErrNotFound
	}
	return nil
}
