package refresh

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/juralen/tokengate/internal/refresh/migrations"
	"github.com/juralen/tokengate/internal/token"
)

// PostgresStore keeps refresh tokens in a refresh_tokens table. Rotation
// runs in a transaction gated by a conditional UPDATE so concurrent
// presentations of the same token resolve to a single winner at the
// database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// RunMigrations applies the embedded goose migrations.
func (s *PostgresStore) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return goose.UpContext(ctx, s.db, ".")
}

func (s *PostgresStore) Create(ctx context.Context, tok *Token) error {
	query := `
		INSERT INTO refresh_tokens
			(id, token_hash, user_id, device_info, created_at, expires_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		tok.ID, tok.Digest.Encode(), tok.UserID, tok.DeviceInfo,
		tok.CreatedAt, tok.ExpiresAt, tok.Active,
	)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByDigest(ctx context.Context, d token.Digest) (*Token, error) {
	query := `
		SELECT id, user_id, device_info, created_at, expires_at, active, last_used_at
		FROM refresh_tokens
		WHERE token_hash = $1
	`
	return scanToken(s.db.QueryRowContext(ctx, query, d.Encode()), d)
}

func (s *PostgresStore) ValidateAndRotate(ctx context.Context, presented, next token.Digest, ttl time.Duration) (_ *Token, _ *Token, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin rotation: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	selectQuery := `
		SELECT id, user_id, device_info, created_at, expires_at, active, last_used_at
		FROM refresh_tokens
		WHERE token_hash = $1
	`
	old, err := scanToken(tx.QueryRowContext(ctx, selectQuery, presented.Encode()), presented)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	if !old.ExpiresAt.After(now) {
		if _, execErr := tx.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE id = $1`, old.ID); execErr != nil {
			err = fmt.Errorf("delete expired token: %w", execErr)
			return nil, nil, err
		}
		if commitErr := tx.Commit(); commitErr != nil {
			err = fmt.Errorf("commit expiry cleanup: %w", commitErr)
			return nil, nil, err
		}
		return nil, nil, ErrExpired
	}

	if !old.Active {
		if _, execErr := tx.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE id = $1`, old.ID); execErr != nil {
			err = fmt.Errorf("delete replayed token: %w", execErr)
			return nil, nil, err
		}
		if commitErr := tx.Commit(); commitErr != nil {
			err = fmt.Errorf("commit replay cleanup: %w", commitErr)
			return nil, nil, err
		}
		return nil, nil, ErrNotActive
	}

	// The AND active gate decides the race: of N concurrent rotations of
	// the same token, exactly one update reports a row.
	flipQuery := `
		UPDATE refresh_tokens
		SET active = FALSE, last_used_at = $2
		WHERE token_hash = $1 AND active = TRUE
	`
	result, err := tx.ExecContext(ctx, flipQuery, presented.Encode(), now)
	if err != nil {
		return nil, nil, fmt.Errorf("deactivate token: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, nil, fmt.Errorf("deactivate token: %w", err)
	}
	if affected == 0 {
		if commitErr := tx.Commit(); commitErr != nil {
			err = fmt.Errorf("commit lost rotation: %w", commitErr)
			return nil, nil, err
		}
		return nil, nil, ErrNotActive
	}

	renewed := &Token{
		ID:         uuid.NewString(),
		UserID:     old.UserID,
		Digest:     next,
		DeviceInfo: old.DeviceInfo,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		Active:     true,
	}

	insertQuery := `
		INSERT INTO refresh_tokens
			(id, token_hash, user_id, device_info, created_at, expires_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = tx.ExecContext(ctx, insertQuery,
		renewed.ID, next.Encode(), renewed.UserID, renewed.DeviceInfo,
		renewed.CreatedAt, renewed.ExpiresAt, renewed.Active,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("insert replacement token: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit rotation: %w", err)
	}

	old.Active = false
	old.LastUsedAt = &now
	return old, renewed, nil
}

func (s *PostgresStore) Revoke(ctx context.Context, d token.Digest) (bool, error) {
	query := `
		UPDATE refresh_tokens
		SET active = FALSE
		WHERE token_hash = $1 AND active = TRUE
	`
	result, err := s.db.ExecContext(ctx, query, d.Encode())
	if err != nil {
		return false, fmt.Errorf("revoke token: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke token: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	query := `
		UPDATE refresh_tokens
		SET active = FALSE
		WHERE user_id = $1 AND active = TRUE
	`
	result, err := s.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke user tokens: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke user tokens: %w", err)
	}
	return affected, nil
}

func (s *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, time.Now())
	if err != nil {
		return 0, fmt.Errorf("purge expired tokens: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge expired tokens: %w", err)
	}
	return affected, nil
}

func scanToken(row *sql.Row, d token.Digest) (*Token, error) {
	tok := &Token{Digest: d}
	var lastUsed sql.NullTime

	err := row.Scan(&tok.ID, &tok.UserID, &tok.DeviceInfo,
		&tok.CreatedAt, &tok.ExpiresAt, &tok.Active, &lastUsed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan refresh token: %w", err)
	}

	if lastUsed.Valid {
		used := lastUsed.Time
		tok.LastUsedAt = &used
	}
	return tok, nil
}
