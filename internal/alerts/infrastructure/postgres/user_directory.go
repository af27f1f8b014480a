package postgres

import (
	"context"
	"database/sql"
	"errors"
)

// UserDirectory resolves a user's notification address. Account
// management itself lives outside this service; only the address column
// is consulted.
type UserDirectory struct {
	db *sql.DB
}

// NewUserDirectory constructs a directory.
func NewUserDirectory(db *sql.DB) *UserDirectory {
	return &UserDirectory{db: db}
}

// UserEmail returns the user's email address, or empty when unknown.
func (d *UserDirectory) UserEmail(ctx context.Context, userID string) (string, error) {
	if d == nil || d.db == nil {
		return "", errors.New("user directory: nil db")
	}
	var email string
	err := d.db.QueryRowContext(ctx, `
SELECT email
FROM users
WHERE id = $1`, userID).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return email, nil
}
