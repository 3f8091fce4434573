package directory

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juralen/tokengate/internal/auth"
)

const selectByEmailPattern = `(?s)^\s*SELECT\s+id,\s*email,.*FROM\s+users\s+WHERE\s+email\s*=\s*\$1\s*$`

func newDirectory(t *testing.T) (*PostgresDirectory, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewPostgresDirectory(db), mock
}

func userRow(id, email string, active bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "email", "password_hash", "role", "active", "must_change_password",
		"reset_token_hash", "reset_token_issued_at", "last_login_at",
	}).AddRow(id, email, "$argon2id$...", "member", active, false, nil, nil, nil)
}

func TestFindByEmail(t *testing.T) {
	dir, mock := newDirectory(t)

	mock.ExpectQuery(selectByEmailPattern).
		WithArgs("a@example.com").
		WillReturnRows(userRow("u1", "a@example.com", true))

	user, err := dir.FindByEmail(context.Background(), "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.True(t, user.Active)
	assert.Empty(t, user.ResetTokenDigest)
	assert.True(t, user.LastLoginAt.IsZero())
}

func TestFindByEmailNotFound(t *testing.T) {
	dir, mock := newDirectory(t)

	mock.ExpectQuery(selectByEmailPattern).
		WithArgs("missing@example.com").
		WillReturnError(sql.ErrNoRows)

	_, err := dir.FindByEmail(context.Background(), "missing@example.com")
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
}

func TestFindByResetDigest(t *testing.T) {
	dir, mock := newDirectory(t)

	pattern := `(?s)^\s*SELECT\s+id,\s*email,.*FROM\s+users\s+WHERE\s+reset_token_hash\s*=\s*\$1\s*$`
	rows := sqlmock.NewRows([]string{
		"id", "email", "password_hash", "role", "active", "must_change_password",
		"reset_token_hash", "reset_token_issued_at", "last_login_at",
	}).AddRow("u1", "a@example.com", "$argon2id$...", "member", true, false,
		"digest-value", time.Now(), nil)

	mock.ExpectQuery(pattern).
		WithArgs("digest-value").
		WillReturnRows(rows)

	user, err := dir.FindByResetDigest(context.Background(), "digest-value")
	require.NoError(t, err)
	assert.Equal(t, "digest-value", user.ResetTokenDigest)
	assert.False(t, user.ResetTokenIssuedAt.IsZero())
}

func TestUpdate(t *testing.T) {
	dir, mock := newDirectory(t)

	pattern := `(?s)^\s*UPDATE\s+users\s+SET\s+password_hash\s*=\s*\$2,.*WHERE\s+id\s*=\s*\$1\s*$`
	mock.ExpectExec(pattern).
		WithArgs("u1", "new-hash", false, nil, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := dir.Update(context.Background(), &auth.User{
		ID:           "u1",
		PasswordHash: "new-hash",
		LastLoginAt:  time.Now(),
	})
	assert.NoError(t, err)
}

func TestUpdateUnknownUser(t *testing.T) {
	dir, mock := newDirectory(t)

	pattern := `(?s)^\s*UPDATE\s+users\s+SET\s+password_hash\s*=\s*\$2,.*WHERE\s+id\s*=\s*\$1\s*$`
	mock.ExpectExec(pattern).
		WithArgs("missing", "", false, nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := dir.Update(context.Background(), &auth.User{ID: "missing"})
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
}
