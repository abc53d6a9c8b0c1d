package repository

import (
	"context"
	"database/sql"

	"github.com/buildhub/buildhub/internal/model"
)

// AccountRepo reads tenant accounts and roles. Registration validates both
// before creating a user, so the methods surface ErrNotFound for missing,
// inactive or soft-deleted rows.
type AccountRepo struct{ DB *sql.DB }

func NewAccountRepo(db *sql.DB) *AccountRepo { return &AccountRepo{DB: db} }

// GetActiveByID fetches an account that is active and not soft-deleted.
func (r *AccountRepo) GetActiveByID(ctx context.Context, id uint64) (model.Account, error) {
	var a model.Account
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, name, is_active, deleted_at, created_at FROM accounts
		 WHERE id=? AND is_active=1 AND deleted_at IS NULL LIMIT 1`,
		id).Scan(&a.ID, &a.Name, &a.IsActive, &a.DeletedAt, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

// GetRoleByID fetches a role by id.
func (r *AccountRepo) GetRoleByID(ctx context.Context, id uint64) (model.Role, error) {
	var role model.Role
	err := r.DB.QueryRowContext(ctx,
		"SELECT id, name FROM roles WHERE id=? LIMIT 1", id).Scan(&role.ID, &role.Name)
	if err == sql.ErrNoRows {
		return role, ErrNotFound
	}
	return role, err
}
