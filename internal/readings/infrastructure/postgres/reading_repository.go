package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	readings "powerstation-cloud/internal/readings/domain"
)

const defaultReadingsTable = "readings"

// ReadingRepository is a Postgres repository for normalized readings.
// Readings are append-only; rows are only removed by the retention sweep.
type ReadingRepository struct {
	db    *sql.DB
	table string
}

// NewReadingRepository constructs a repository.
func NewReadingRepository(db *sql.DB) *ReadingRepository {
	return &ReadingRepository{db: db, table: defaultReadingsTable}
}

// Insert appends one reading. The raw vendor snapshot is stored verbatim
// as JSON next to the derived columns.
func (r *ReadingRepository) Insert(ctx context.Context, reading *readings.Reading) error {
	if r == nil || r.db == nil {
		return errors.New("reading repo: nil db")
	}
	if reading == nil {
		return errors.New("reading repo: nil reading")
	}
	if reading.DeviceID == "" || reading.RecordedAt.IsZero() {
		return errors.New("reading repo: missing fields")
	}

	rawQuota, err := json.Marshal(reading.RawQuota)
	if err != nil {
		return err
	}

	chargingType := sql.NullString{}
	if reading.ChargingType != nil {
		chargingType = sql.NullString{String: *reading.ChargingType, Valid: true}
	}
	remaining := sql.NullFloat64{}
	if reading.RemainingTimeMin != nil {
		remaining = sql.NullFloat64{Float64: *reading.RemainingTimeMin, Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO readings (
	device_id, battery_level_pct, input_watts, ac_input_watts, dc_input_watts,
	charging_type, output_watts, ac_output_watts, dc_output_watts, usb_output_watts,
	remaining_time_min, temperature_c, status, raw_quota, recorded_at
) VALUES (
	$1, $2, $3, $4, $5,
	$6, $7, $8, $9, $10,
	$11, $12, $13, $14, $15
)`,
		reading.DeviceID,
		reading.BatteryLevelPct,
		reading.InputWatts,
		reading.ACInputWatts,
		reading.DCInputWatts,
		chargingType,
		reading.OutputWatts,
		reading.ACOutputWatts,
		reading.DCOutputWatts,
		reading.USBOutputWatts,
		remaining,
		reading.TemperatureC,
		reading.Status,
		rawQuota,
		reading.RecordedAt,
	)
	return err
}

// LatestByDevice returns the newest reading for a device, or nil when the
// device has never reported.
func (r *ReadingRepository) LatestByDevice(ctx context.Context, deviceID string) (*readings.Reading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT device_id, battery_level_pct, input_watts, ac_input_watts, dc_input_watts,
	charging_type, output_watts, ac_output_watts, dc_output_watts, usb_output_watts,
	remaining_time_min, temperature_c, status, raw_quota, recorded_at
FROM readings
WHERE device_id = $1
ORDER BY recorded_at DESC
LIMIT 1`, deviceID)
	return scanReading(row)
}

// CountSince returns how many readings a device produced at or after the
// given instant. Used for offline detection.
func (r *ReadingRepository) CountSince(ctx context.Context, deviceID string, since time.Time) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("reading repo: nil db")
	}
	var count int
	err := r.db.QueryRowContext(ctx, `
SELECT COUNT(*)
FROM readings
WHERE device_id = $1 AND recorded_at >= $2`, deviceID, since).Scan(&count)
	return count, err
}

// ListByDeviceRange returns readings for a device inside [from, to),
// newest first, capped by limit.
func (r *ReadingRepository) ListByDeviceRange(ctx context.Context, deviceID string, from, to time.Time, limit int) ([]readings.Reading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT device_id, battery_level_pct, input_watts, ac_input_watts, dc_input_watts,
	charging_type, output_watts, ac_output_watts, dc_output_watts, usb_output_watts,
	remaining_time_min, temperature_c, status, raw_quota, recorded_at
FROM readings
WHERE device_id = $1 AND recorded_at >= $2 AND recorded_at < $3
ORDER BY recorded_at DESC
LIMIT $4`, deviceID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []readings.Reading
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *reading)
	}
	return result, rows.Err()
}

// DeleteOlderThan removes readings recorded strictly before the cutoff,
// scoped to the given user's devices. Returns the number of rows removed.
func (r *ReadingRepository) DeleteOlderThan(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("reading repo: nil db")
	}
	result, err := r.db.ExecContext(ctx, `
DELETE FROM readings
USING devices
WHERE readings.device_id = devices.id
	AND devices.user_id = $1
	AND readings.recorded_at < $2`, userID, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReading(row rowScanner) (*readings.Reading, error) {
	var reading readings.Reading
	var chargingType sql.NullString
	var remaining sql.NullFloat64
	var rawQuota []byte
	if err := row.Scan(
		&reading.DeviceID,
		&reading.BatteryLevelPct,
		&reading.InputWatts,
		&reading.ACInputWatts,
		&reading.DCInputWatts,
		&chargingType,
		&reading.OutputWatts,
		&reading.ACOutputWatts,
		&reading.DCOutputWatts,
		&reading.USBOutputWatts,
		&remaining,
		&reading.TemperatureC,
		&reading.Status,
		&rawQuota,
		&reading.RecordedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if chargingType.Valid {
		reading.ChargingType = &chargingType.String
	}
	if remaining.Valid {
		reading.RemainingTimeMin = &remaining.Float64
	}
	if len(rawQuota) > 0 {
		if err := json.Unmarshal(rawQuota, &reading.RawQuota); err != nil {
			return nil, err
		}
	}
	reading.RecordedAt = reading.RecordedAt.UTC()
	return &reading, nil
}
