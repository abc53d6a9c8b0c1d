package handler

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/buildhub/buildhub/internal/config"
	"github.com/buildhub/buildhub/internal/middleware"
	"github.com/buildhub/buildhub/internal/model"
	"github.com/buildhub/buildhub/internal/repository"
	"github.com/buildhub/buildhub/internal/utils"
	"github.com/buildhub/buildhub/pkg/apperr"
)

// UserStore is the credential-store contract the auth flows need.
// *repository.UserRepo satisfies it.
type UserStore interface {
	Create(ctx context.Context, u model.User) (uint64, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
	SetRefreshToken(ctx context.Context, id uint64, token string, exp time.Time) error
	RotateRefreshToken(ctx context.Context, id uint64, oldToken, newToken string, exp time.Time) error
	ClearRefreshToken(ctx context.Context, id uint64) error
	RecordSignIn(ctx context.Context, id uint64) error
	SetActive(ctx context.Context, id uint64, active bool) error
}

// AccountStore validates tenant and role references during registration.
// *repository.AccountRepo satisfies it.
type AccountStore interface {
	GetActiveByID(ctx context.Context, id uint64) (model.Account, error)
	GetRoleByID(ctx context.Context, id uint64) (model.Role, error)
}

// AuthHandler bundles dependencies for the auth endpoints.
type AuthHandler struct {
	Cfg      config.Config
	Users    UserStore
	Accounts AccountStore
}

func NewAuthHandler(cfg config.Config, users UserStore, accounts AccountStore) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Users: users, Accounts: accounts}
}

// ----- DTOs -----

type registerReq struct {
	AccountID uint64 `json:"accountId"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	RoleID    uint64 `json:"roleId"`
	Phone     string `json:"phone"`
	Position  string `json:"position"`
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshReq struct {
	RefreshToken string `json:"refreshToken"`
}

// userView is the sanitized projection returned to clients: never the
// password hash or the refresh token fields.
type userView struct {
	ID          uint64     `json:"id"`
	AccountID   uint64     `json:"accountId"`
	RoleID      *uint64    `json:"roleId,omitempty"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	Phone       string     `json:"phone,omitempty"`
	Position    string     `json:"position,omitempty"`
	IsActive    bool       `json:"isActive"`
	ConfirmedAt *time.Time `json:"confirmedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

type authResp struct {
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	User         userView `json:"user"`
}

type refreshResp struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func toUserView(u model.User) userView {
	v := userView{
		ID:        u.ID,
		AccountID: u.AccountID,
		Name:      u.Name,
		Email:     u.Email,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
	}
	if u.RoleID.Valid {
		r := uint64(u.RoleID.Int64)
		v.RoleID = &r
	}
	if u.Phone.Valid {
		v.Phone = u.Phone.String
	}
	if u.Position.Valid {
		v.Position = u.Position.String
	}
	if u.ConfirmedAt.Valid {
		t := u.ConfirmedAt.Time
		v.ConfirmedAt = &t
	}
	return v
}

func (h *AuthHandler) identityOf(u model.User) utils.Identity {
	id := utils.Identity{
		UserID:    u.ID,
		Email:     u.Email,
		AccountID: u.AccountID,
		Name:      u.Name,
	}
	if u.RoleID.Valid {
		id.RoleID = uint64(u.RoleID.Int64)
	}
	return id
}

// issueSession mints a token pair for the user and persists the refresh
// token onto the row, overwriting any prior one: logging in elsewhere
// invalidates other sessions' refresh capability.
func (h *AuthHandler) issueSession(ctx context.Context, u model.User) (utils.TokenPair, error) {
	pair, err := utils.NewTokenPair(h.Cfg.AccessSecret, h.Cfg.RefreshSecret,
		h.identityOf(u), h.Cfg.AccessTTLMin, h.Cfg.RefreshTTL)
	if err != nil {
		return utils.TokenPair{}, err
	}
	if err := h.Users.SetRefreshToken(ctx, u.ID, pair.Refresh.Token, pair.Refresh.Exp); err != nil {
		return utils.TokenPair{}, err
	}
	return pair, nil
}

// Register creates a user under an existing account and returns tokens
// immediately.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return apperr.InvalidArg("Invalid body")
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = strings.TrimSpace(req.Name)
	if req.Email == "" || req.Password == "" || req.Name == "" || req.AccountID == 0 {
		return apperr.InvalidArg("accountId, name, email and password are required")
	}
	if len(req.Password) < 6 {
		return apperr.InvalidArg("Password too short")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if _, err := h.Accounts.GetActiveByID(ctx, req.AccountID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("Account not found")
		}
		return err
	}
	roleID := sql.NullInt64{}
	if req.RoleID != 0 {
		if _, err := h.Accounts.GetRoleByID(ctx, req.RoleID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperr.NotFound("Role not found")
			}
			return err
		}
		roleID = sql.NullInt64{Int64: int64(req.RoleID), Valid: true}
	}

	hash, err := utils.HashPassword(req.Password, h.Cfg.BcryptCost)
	if err != nil {
		return err
	}
	u := model.User{
		AccountID:    req.AccountID,
		RoleID:       roleID,
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		IsActive:     true,
		ConfirmedAt:  sql.NullTime{Time: time.Now().UTC(), Valid: true},
	}
	if p := strings.TrimSpace(req.Phone); p != "" {
		u.Phone = sql.NullString{String: p, Valid: true}
	}
	if p := strings.TrimSpace(req.Position); p != "" {
		u.Position = sql.NullString{String: p, Valid: true}
	}

	uid, err := h.Users.Create(ctx, u)
	if err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return apperr.Conflict("Email already registered")
		}
		return err
	}

	stored, err := h.Users.GetByID(ctx, uid)
	if err != nil {
		return err
	}
	pair, err := h.issueSession(ctx, stored)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, authResp{
		AccessToken:  pair.Access.Token,
		RefreshToken: pair.Refresh.Token,
		User:         toUserView(stored),
	})
}

// Login verifies credentials and returns a new token pair. The 401 message
// is identical for an unknown email and a wrong password so the endpoint
// cannot be used to enumerate users.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return apperr.InvalidArg("Invalid body")
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		return apperr.InvalidArg("Email and password are required")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.Unauthorized("Invalid credentials")
		}
		return err
	}
	if u.PasswordHash == "" || !utils.VerifyPassword(u.PasswordHash, req.Password) {
		return apperr.Unauthorized("Invalid credentials")
	}
	if !u.CanAuthenticate() {
		return apperr.Unauthorized("Account is inactive")
	}

	if err := h.Users.RecordSignIn(ctx, u.ID); err != nil {
		return err
	}
	pair, err := h.issueSession(ctx, u)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, authResp{
		AccessToken:  pair.Access.Token,
		RefreshToken: pair.Refresh.Token,
		User:         toUserView(u),
	})
}

// errInvalidRefresh is the single failure every refresh attempt surfaces as.
var errInvalidRefresh = apperr.Unauthorized("Invalid refresh token")

// Refresh rotates the refresh token: the presented token must verify
// cryptographically, match the stored value byte for byte and be unexpired,
// after which a new pair replaces it. Internal failures are reported to the
// client as the same 401 so no verification detail leaks; only genuinely
// unexpected errors are logged with their cause.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return apperr.InvalidArg("refreshToken required")
	}
	raw := strings.TrimSpace(req.RefreshToken)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	resp, err := h.refresh(ctx, raw)
	if err != nil {
		if apperr.CodeOf(err) != apperr.CodeUnauthenticated {
			log.Printf("auth: refresh failed unexpectedly: %v", err)
		}
		return errInvalidRefresh
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *AuthHandler) refresh(ctx context.Context, raw string) (refreshResp, error) {
	sub, err := utils.VerifyRefreshToken(h.Cfg.RefreshSecret, raw)
	if err != nil {
		return refreshResp{}, errInvalidRefresh
	}
	u, err := h.Users.GetByID(ctx, sub)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return refreshResp{}, errInvalidRefresh
		}
		return refreshResp{}, err
	}
	if !u.CanAuthenticate() {
		return refreshResp{}, errInvalidRefresh
	}
	// Byte-for-byte comparison against the stored value detects reuse of a
	// superseded token.
	if !u.RefreshToken.Valid || u.RefreshToken.String != raw {
		return refreshResp{}, errInvalidRefresh
	}
	if !u.RefreshTokenExpiresAt.Valid || time.Now().UTC().After(u.RefreshTokenExpiresAt.Time) {
		return refreshResp{}, errInvalidRefresh
	}

	pair, err := utils.NewTokenPair(h.Cfg.AccessSecret, h.Cfg.RefreshSecret,
		h.identityOf(u), h.Cfg.AccessTTLMin, h.Cfg.RefreshTTL)
	if err != nil {
		return refreshResp{}, err
	}
	// Conditional rotation: losing the race to a concurrent refresh means
	// the stored token is no longer the one we verified.
	if err := h.Users.RotateRefreshToken(ctx, u.ID, raw, pair.Refresh.Token, pair.Refresh.Exp); err != nil {
		if errors.Is(err, repository.ErrTokenRotated) {
			return refreshResp{}, errInvalidRefresh
		}
		return refreshResp{}, err
	}
	return refreshResp{AccessToken: pair.Access.Token, RefreshToken: pair.Refresh.Token}, nil
}

// Logout unconditionally clears the caller's stored refresh token. It is
// idempotent: logging out twice succeeds both times.
func (h *AuthHandler) Logout(c echo.Context) error {
	return h.clearSession(c)
}

// LogoutAll matches Logout while a single refresh token is tracked per
// user; it exists as its own route for API clarity and future multi-session
// support.
func (h *AuthHandler) LogoutAll(c echo.Context) error {
	return h.clearSession(c)
}

func (h *AuthHandler) clearSession(c echo.Context) error {
	id, ok := middleware.CurrentIdentity(c)
	if !ok {
		return apperr.Unauthorized("Missing bearer token")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Users.ClearRefreshToken(ctx, id.UserID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Logged out"})
}

// Me returns the caller's sanitized profile.
func (h *AuthHandler) Me(c echo.Context) error {
	id, ok := middleware.CurrentIdentity(c)
	if !ok {
		return apperr.Unauthorized("Missing bearer token")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.GetByID(ctx, id.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("User not found")
		}
		return err
	}
	return c.JSON(http.StatusOK, toUserView(u))
}

// Activate flips a user's active flag. The route is guarded by the admin
// role allow-list; this handler only needs to locate the target.
func (h *AuthHandler) Activate(c echo.Context) error {
	targetID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || targetID == 0 {
		return apperr.InvalidArg("Invalid user id")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Users.SetActive(ctx, targetID, true); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("User not found")
		}
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "User activated"})
}
