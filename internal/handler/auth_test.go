package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/buildhub/buildhub/internal/config"
	"github.com/buildhub/buildhub/internal/middleware"
	"github.com/buildhub/buildhub/internal/model"
	"github.com/buildhub/buildhub/internal/repository"
	"github.com/buildhub/buildhub/pkg/apperr"
)

// ----- fakes -----

type fakeUserStore struct {
	mu     sync.Mutex
	nextID uint64
	byID   map[uint64]model.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{byID: map[uint64]model.User{}}
}

func (s *fakeUserStore) Create(_ context.Context, u model.User) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ex := range s.byID {
		if ex.Email == u.Email {
			return 0, repository.ErrEmailExists
		}
	}
	s.nextID++
	u.ID = s.nextID
	u.CreatedAt = time.Now().UTC()
	u.UpdatedAt = u.CreatedAt
	s.byID[u.ID] = u
	return u.ID, nil
}

func (s *fakeUserStore) GetByEmail(_ context.Context, email string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return model.User{}, repository.ErrNotFound
}

func (s *fakeUserStore) GetByID(_ context.Context, id uint64) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return u, nil
}

func (s *fakeUserStore) SetRefreshToken(_ context.Context, id uint64, token string, exp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.byID[id]
	u.RefreshToken = sql.NullString{String: token, Valid: true}
	u.RefreshTokenExpiresAt = sql.NullTime{Time: exp, Valid: true}
	s.byID[id] = u
	return nil
}

func (s *fakeUserStore) RotateRefreshToken(_ context.Context, id uint64, oldToken, newToken string, exp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok || !u.RefreshToken.Valid || u.RefreshToken.String != oldToken {
		return repository.ErrTokenRotated
	}
	u.RefreshToken = sql.NullString{String: newToken, Valid: true}
	u.RefreshTokenExpiresAt = sql.NullTime{Time: exp, Valid: true}
	s.byID[id] = u
	return nil
}

func (s *fakeUserStore) ClearRefreshToken(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return nil
	}
	u.RefreshToken = sql.NullString{}
	u.RefreshTokenExpiresAt = sql.NullTime{}
	s.byID[id] = u
	return nil
}

func (s *fakeUserStore) RecordSignIn(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.byID[id]
	u.LastSignInAt = u.CurrentSignInAt
	u.CurrentSignInAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	u.SignInCount++
	s.byID[id] = u
	return nil
}

func (s *fakeUserStore) SetActive(_ context.Context, id uint64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok || u.DeletedAt.Valid {
		return repository.ErrNotFound
	}
	u.IsActive = active
	s.byID[id] = u
	return nil
}

func (s *fakeUserStore) mutate(id uint64, fn func(*model.User)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.byID[id]
	fn(&u)
	s.byID[id] = u
}

type fakeAccountStore struct {
	accounts map[uint64]model.Account
	roles    map[uint64]model.Role
}

func (s *fakeAccountStore) GetActiveByID(_ context.Context, id uint64) (model.Account, error) {
	a, ok := s.accounts[id]
	if !ok || !a.IsActive || a.DeletedAt.Valid {
		return model.Account{}, repository.ErrNotFound
	}
	return a, nil
}

func (s *fakeAccountStore) GetRoleByID(_ context.Context, id uint64) (model.Role, error) {
	r, ok := s.roles[id]
	if !ok {
		return model.Role{}, repository.ErrNotFound
	}
	return r, nil
}

// ----- harness -----

func testConfig() config.Config {
	return config.Config{
		Env:           "test",
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessTTLMin:  15,
		RefreshTTL:    "7d",
		BcryptCost:    bcrypt.MinCost,
	}
}

func newAuthServer(t *testing.T) (*echo.Echo, *fakeUserStore) {
	t.Helper()
	users := newFakeUserStore()
	accounts := &fakeAccountStore{
		accounts: map[uint64]model.Account{
			1: {ID: 1, Name: "Acme Construction", IsActive: true},
		},
		roles: map[uint64]model.Role{
			1: {ID: 1, Name: "admin"},
			3: {ID: 3, Name: "worker"},
		},
	}
	h := NewAuthHandler(testConfig(), users, accounts)

	e := echo.New()
	e.HTTPErrorHandler = apperr.HTTPErrorHandler
	e.POST("/v1/auth/register", h.Register)
	e.POST("/v1/auth/login", h.Login)
	e.POST("/v1/auth/refresh", h.Refresh)
	auth := e.Group("/v1/auth", middleware.JWTAuth(testConfig().AccessSecret))
	auth.POST("/logout", h.Logout)
	auth.POST("/logout-all", h.LogoutAll)
	auth.GET("/me", h.Me)
	auth.POST("/users/:id/activate", h.Activate, middleware.RequireRole(1))
	return e, users
}

func doJSON(e *echo.Echo, method, path, body, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func registerBody(email string) string {
	return fmt.Sprintf(`{"accountId":1,"name":"A","email":%q,"password":"Secret123","roleId":3}`, email)
}

func mustRegister(t *testing.T, e *echo.Echo, email string) authResp {
	t.Helper()
	rec := doJSON(e, http.MethodPost, "/v1/auth/register", registerBody(email), "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp authResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func errMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Message
}

// ----- tests -----

func TestRegisterThenLogin(t *testing.T) {
	e, _ := newAuthServer(t)

	resp := mustRegister(t, e, "a@x.com")
	assert.Equal(t, "a@x.com", resp.User.Email)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.NotNil(t, resp.User.ConfirmedAt)

	rec := doJSON(e, http.MethodPost, "/v1/auth/login",
		`{"email":"a@x.com","password":"Secret123"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var login authResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
	assert.Equal(t, "a@x.com", login.User.Email)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	e, _ := newAuthServer(t)
	mustRegister(t, e, "a@x.com")

	rec := doJSON(e, http.MethodPost, "/v1/auth/register", registerBody("a@x.com"), "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRegisterEmailNormalized(t *testing.T) {
	e, _ := newAuthServer(t)
	resp := mustRegister(t, e, "MiXeD@X.com")
	assert.Equal(t, "mixed@x.com", resp.User.Email)

	rec := doJSON(e, http.MethodPost, "/v1/auth/register", registerBody("mixed@x.com"), "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRegisterUnknownAccountOrRole(t *testing.T) {
	e, _ := newAuthServer(t)

	rec := doJSON(e, http.MethodPost, "/v1/auth/register",
		`{"accountId":99,"name":"A","email":"a@x.com","password":"Secret123"}`, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(e, http.MethodPost, "/v1/auth/register",
		`{"accountId":1,"name":"A","email":"a@x.com","password":"Secret123","roleId":99}`, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLoginBadCredentialsIndistinguishable(t *testing.T) {
	e, _ := newAuthServer(t)
	mustRegister(t, e, "a@x.com")

	wrongPw := doJSON(e, http.MethodPost, "/v1/auth/login",
		`{"email":"a@x.com","password":"wrong"}`, "")
	noUser := doJSON(e, http.MethodPost, "/v1/auth/login",
		`{"email":"ghost@x.com","password":"Secret123"}`, "")

	assert.Equal(t, http.StatusUnauthorized, wrongPw.Code)
	assert.Equal(t, http.StatusUnauthorized, noUser.Code)
	// Same status and same message, so the endpoint cannot enumerate users.
	assert.Equal(t, "Invalid credentials", errMessage(t, wrongPw))
	assert.Equal(t, errMessage(t, wrongPw), errMessage(t, noUser))
}

func TestLoginInactiveUser(t *testing.T) {
	e, users := newAuthServer(t)
	resp := mustRegister(t, e, "a@x.com")

	users.mutate(resp.User.ID, func(u *model.User) { u.IsActive = false })
	rec := doJSON(e, http.MethodPost, "/v1/auth/login",
		`{"email":"a@x.com","password":"Secret123"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginSoftDeletedUser(t *testing.T) {
	e, users := newAuthServer(t)
	resp := mustRegister(t, e, "a@x.com")

	users.mutate(resp.User.ID, func(u *model.User) {
		u.DeletedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	})
	rec := doJSON(e, http.MethodPost, "/v1/auth/login",
		`{"email":"a@x.com","password":"Secret123"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginBookkeeping(t *testing.T) {
	e, users := newAuthServer(t)
	resp := mustRegister(t, e, "a@x.com")

	for i := 0; i < 2; i++ {
		rec := doJSON(e, http.MethodPost, "/v1/auth/login",
			`{"email":"a@x.com","password":"Secret123"}`, "")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	u, err := users.GetByID(context.Background(), resp.User.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), u.SignInCount)
	assert.True(t, u.CurrentSignInAt.Valid)
	assert.True(t, u.LastSignInAt.Valid)
}

func TestRefreshRotatesToken(t *testing.T) {
	e, _ := newAuthServer(t)
	resp := mustRegister(t, e, "a@x.com")

	rec := doJSON(e, http.MethodPost, "/v1/auth/refresh",
		fmt.Sprintf(`{"refreshToken":%q}`, resp.RefreshToken), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var refreshed refreshResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &refreshed))
	assert.NotEmpty(t, refreshed.AccessToken)
	assert.NotEqual(t, resp.RefreshToken, refreshed.RefreshToken)

	// The superseded token is single-use: replaying it fails.
	rec = doJSON(e, http.MethodPost, "/v1/auth/refresh",
		fmt.Sprintf(`{"refreshToken":%q}`, resp.RefreshToken), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// The rotated token still works.
	rec = doJSON(e, http.MethodPost, "/v1/auth/refresh",
		fmt.Sprintf(`{"refreshToken":%q}`, refreshed.RefreshToken), "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRefreshGarbageToken(t *testing.T) {
	e, _ := newAuthServer(t)
	rec := doJSON(e, http.MethodPost, "/v1/auth/refresh", `{"refreshToken":"garbage"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid refresh token", errMessage(t, rec))
}

func TestRefreshInactiveUser(t *testing.T) {
	e, users := newAuthServer(t)
	resp := mustRegister(t, e, "a@x.com")

	users.mutate(resp.User.ID, func(u *model.User) { u.IsActive = false })
	rec := doJSON(e, http.MethodPost, "/v1/auth/refresh",
		fmt.Sprintf(`{"refreshToken":%q}`, resp.RefreshToken), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshStoredExpiryInPast(t *testing.T) {
	e, users := newAuthServer(t)
	resp := mustRegister(t, e, "a@x.com")

	users.mutate(resp.User.ID, func(u *model.User) {
		u.RefreshTokenExpiresAt = sql.NullTime{Time: time.Now().UTC().Add(-time.Hour), Valid: true}
	})
	rec := doJSON(e, http.MethodPost, "/v1/auth/refresh",
		fmt.Sprintf(`{"refreshToken":%q}`, resp.RefreshToken), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutIsIdempotent(t *testing.T) {
	e, _ := newAuthServer(t)
	resp := mustRegister(t, e, "a@x.com")

	for i := 0; i < 2; i++ {
		rec := doJSON(e, http.MethodPost, "/v1/auth/logout", "", resp.AccessToken)
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	// Refresh after logout always fails, valid-looking token or not.
	rec := doJSON(e, http.MethodPost, "/v1/auth/refresh",
		fmt.Sprintf(`{"refreshToken":%q}`, resp.RefreshToken), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutAllMatchesLogout(t *testing.T) {
	e, _ := newAuthServer(t)
	resp := mustRegister(t, e, "a@x.com")

	rec := doJSON(e, http.MethodPost, "/v1/auth/logout-all", "", resp.AccessToken)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(e, http.MethodPost, "/v1/auth/refresh",
		fmt.Sprintf(`{"refreshToken":%q}`, resp.RefreshToken), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMe(t *testing.T) {
	e, users := newAuthServer(t)
	resp := mustRegister(t, e, "a@x.com")

	rec := doJSON(e, http.MethodGet, "/v1/auth/me", "", resp.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var me userView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, "a@x.com", me.Email)
	// The sanitized projection must not leak credentials.
	assert.NotContains(t, rec.Body.String(), "password")
	assert.NotContains(t, rec.Body.String(), "refresh")

	// Row vanished between token issue and the call.
	users.mu.Lock()
	delete(users.byID, resp.User.ID)
	users.mu.Unlock()
	rec = doJSON(e, http.MethodGet, "/v1/auth/me", "", resp.AccessToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMeRequiresBearer(t *testing.T) {
	e, _ := newAuthServer(t)
	rec := doJSON(e, http.MethodGet, "/v1/auth/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestActivateRoleAllowList(t *testing.T) {
	e, users := newAuthServer(t)
	worker := mustRegister(t, e, "worker@x.com") // roleId 3

	users.mutate(worker.User.ID, func(u *model.User) { u.IsActive = false })

	// Another registered user with the admin role.
	rec := doJSON(e, http.MethodPost, "/v1/auth/register",
		`{"accountId":1,"name":"Boss","email":"boss@x.com","password":"Secret123","roleId":1}`, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var admin authResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &admin))

	path := fmt.Sprintf("/v1/auth/users/%d/activate", worker.User.ID)

	// The worker's role is not in the allow-list.
	rec = doJSON(e, http.MethodPost, path, "", worker.AccessToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(e, http.MethodPost, path, "", admin.AccessToken)
	assert.Equal(t, http.StatusOK, rec.Code)

	u, err := users.GetByID(context.Background(), worker.User.ID)
	require.NoError(t, err)
	assert.True(t, u.IsActive)
}
