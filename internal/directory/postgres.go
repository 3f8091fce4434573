// Package directory adapts the externally-owned users table to the
// auth.UserDirectory contract. The table schema belongs to the
// user-management system; this adapter only touches auth-relevant
// columns and never creates or deletes rows.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/juralen/tokengate/internal/auth"
)

const userColumns = `
	id, email, password_hash, role, active, must_change_password,
	reset_token_hash, reset_token_issued_at, last_login_at
`

// PostgresDirectory reads and updates user records over database/sql.
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory wraps an open database handle.
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(d.db.QueryRowContext(ctx, query, email))
}

func (d *PostgresDirectory) FindByID(ctx context.Context, id string) (*auth.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(d.db.QueryRowContext(ctx, query, id))
}

func (d *PostgresDirectory) FindByResetDigest(ctx context.Context, digest string) (*auth.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE reset_token_hash = $1`
	return scanUser(d.db.QueryRowContext(ctx, query, digest))
}

// Update writes back the auth-owned fields of a user record.
func (d *PostgresDirectory) Update(ctx context.Context, user *auth.User) error {
	query := `
		UPDATE users
		SET password_hash = $2,
		    must_change_password = $3,
		    reset_token_hash = $4,
		    reset_token_issued_at = $5,
		    last_login_at = $6
		WHERE id = $1
	`
	result, err := d.db.ExecContext(ctx, query,
		user.ID,
		user.PasswordHash,
		user.MustChangePassword,
		nullString(user.ResetTokenDigest),
		nullTime(user.ResetTokenIssuedAt),
		nullTime(user.LastLoginAt),
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if affected == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}

func scanUser(row *sql.Row) (*auth.User, error) {
	var (
		user        auth.User
		resetDigest sql.NullString
		resetIssued sql.NullTime
		lastLogin   sql.NullTime
	)

	err := row.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.Role,
		&user.Active, &user.MustChangePassword,
		&resetDigest, &resetIssued, &lastLogin,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	user.ResetTokenDigest = resetDigest.String
	if resetIssued.Valid {
		user.ResetTokenIssuedAt = resetIssued.Time
	}
	if lastLogin.Valid {
		user.LastLoginAt = lastLogin.Time
	}
	return &user, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
