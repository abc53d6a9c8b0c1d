package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/buildhub/buildhub/internal/model"
)

// userColumns is the column list every user SELECT shares, kept in one place
// so scanUser stays in sync with the queries.
const userColumns = "id, account_id, role_id, name, email, phone, position, password_hash, " +
	"is_active, confirmed_at, deleted_at, refresh_token, refresh_token_expires_at, " +
	"sign_in_count, last_sign_in_at, current_sign_in_at, created_at, updated_at"

// UserRepo persists user rows, including the single current refresh token
// mirrored onto each row.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

func scanUser(row *sql.Row) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.AccountID, &u.RoleID, &u.Name, &u.Email, &u.Phone, &u.Position,
		&u.PasswordHash, &u.IsActive, &u.ConfirmedAt, &u.DeletedAt,
		&u.RefreshToken, &u.RefreshTokenExpiresAt,
		&u.SignInCount, &u.LastSignInAt, &u.CurrentSignInAt, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

// Create inserts a user and returns its id. The email must already be
// normalized and the password hashed by the caller. Duplicate emails map to
// ErrEmailExists via the MySQL 1062 error code.
func (r *UserRepo) Create(ctx context.Context, u model.User) (uint64, error) {
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO users (account_id, role_id, name, email, phone, position, password_hash, is_active, confirmed_at)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		u.AccountID, u.RoleID, u.Name, u.Email, u.Phone, u.Position, u.PasswordHash, u.IsActive, u.ConfirmedAt)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "1062") {
			return 0, ErrEmailExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", email))
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id))
}

// SetRefreshToken stores a freshly issued refresh token and its expiry,
// unconditionally replacing whatever was there. Used by register and login,
// where a new session legitimately supersedes any existing one.
func (r *UserRepo) SetRefreshToken(ctx context.Context, id uint64, token string, exp time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET refresh_token=?, refresh_token_expires_at=? WHERE id=?",
		token, exp, id)
	return err
}

// RotateRefreshToken replaces the stored refresh token only if it still
// equals oldToken. A zero-row update means a concurrent refresh already
// rotated it; the caller gets ErrTokenRotated and must reject the request.
func (r *UserRepo) RotateRefreshToken(ctx context.Context, id uint64, oldToken, newToken string, exp time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET refresh_token=?, refresh_token_expires_at=? WHERE id=? AND refresh_token=?",
		newToken, exp, id, oldToken)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTokenRotated
	}
	return nil
}

// ClearRefreshToken nulls the stored refresh token and its expiry. It is
// idempotent: clearing an already-cleared row succeeds.
func (r *UserRepo) ClearRefreshToken(ctx context.Context, id uint64) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET refresh_token=NULL, refresh_token_expires_at=NULL WHERE id=?", id)
	return err
}

// RecordSignIn updates the sign-in bookkeeping on a successful login: the
// previous current timestamp becomes the last one, and the counter grows.
func (r *UserRepo) RecordSignIn(ctx context.Context, id uint64) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE users SET last_sign_in_at=current_sign_in_at, current_sign_in_at=NOW(),
		 sign_in_count=sign_in_count+1 WHERE id=?`, id)
	return err
}

// SetActive flips the active flag; used by the privileged activation flow.
func (r *UserRepo) SetActive(ctx context.Context, id uint64, active bool) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET is_active=? WHERE id=? AND deleted_at IS NULL", active, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
