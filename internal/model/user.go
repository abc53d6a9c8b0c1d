package model

import (
	"database/sql"
	"time"
)

// User represents an application user record as stored in the `users` table.
// Each field corresponds to a column. A user belongs to exactly one account
// (the tenant boundary); a soft-deleted or inactive user must never
// authenticate. The refresh token fields hold the single currently-valid
// refresh token for the user: issuing a new one overwrites and thereby
// invalidates the previous one, and logout clears both fields.
type User struct {
	ID                    uint64         // users.id
	AccountID             uint64         // users.account_id (tenant key)
	RoleID                sql.NullInt64  // users.role_id (references roles.id, nullable)
	Name                  string         // users.name
	Email                 string         // users.email (unique, stored lower-case)
	Phone                 sql.NullString // users.phone
	Position              sql.NullString // users.position
	PasswordHash          string         // users.password_hash
	IsActive              bool           // users.is_active
	ConfirmedAt           sql.NullTime   // users.confirmed_at
	DeletedAt             sql.NullTime   // users.deleted_at (soft delete)
	RefreshToken          sql.NullString // users.refresh_token (current token, raw value)
	RefreshTokenExpiresAt sql.NullTime   // users.refresh_token_expires_at
	SignInCount           uint32         // users.sign_in_count
	LastSignInAt          sql.NullTime   // users.last_sign_in_at
	CurrentSignInAt       sql.NullTime   // users.current_sign_in_at
	CreatedAt             time.Time      // users.created_at
	UpdatedAt             time.Time      // users.updated_at
}

// CanAuthenticate reports whether the user may obtain or refresh a session.
func (u *User) CanAuthenticate() bool {
	return u.IsActive && !u.DeletedAt.Valid
}

// Account represents a row in the `accounts` table, the multi-tenancy
// boundary most entities are scoped by.
type Account struct {
	ID        uint64       // accounts.id
	Name      string       // accounts.name
	IsActive  bool         // accounts.is_active
	DeletedAt sql.NullTime // accounts.deleted_at
	CreatedAt time.Time    // accounts.created_at
}

// Role represents a row in the `roles` table. Users reference it via RoleID.
type Role struct {
	ID   uint64 // roles.id
	Name string // roles.name
}
