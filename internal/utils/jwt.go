package utils // package utils provides helper functions for token creation and hashing

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultRefreshTTL is used when the configured refresh lifetime string
// cannot be parsed.
const DefaultRefreshTTL = 7 * 24 * time.Hour

// ErrInvalidToken is returned by the verify functions for any token that
// fails signature, structure or expiry checks. Callers deliberately receive
// no further detail.
var ErrInvalidToken = errors.New("invalid token")

// Identity is the claim set embedded in access tokens: who the caller is and
// which tenant they belong to. RoleID is zero when the user has no role.
type Identity struct {
	UserID    uint64
	Email     string
	RoleID    uint64
	AccountID uint64
	Name      string
}

// AccessToken represents a signed JWT access token along with its expiry.
// Access tokens are short-lived, never stored server-side and cannot be
// revoked before they expire.
type AccessToken struct {
	Token string
	Exp   time.Time
}

// RefreshToken represents a long-lived signed token used to obtain new
// access tokens. The raw value is mirrored onto the user row so that at most
// one refresh token is valid per user at a time.
type RefreshToken struct {
	Token string
	Exp   time.Time
}

// TokenPair bundles the two tokens issued together on register, login and
// refresh.
type TokenPair struct {
	Access  AccessToken
	Refresh RefreshToken
}

// NewAccessToken builds and signs an HS256 JWT for a user. The JWT carries
// the subject (sub), email, role, account, expiration (exp) and issued-at
// (iat) claims.
func NewAccessToken(secret string, id Identity, ttlMin int) (AccessToken, error) {
	now := time.Now().UTC()
	exp := now.Add(time.Duration(ttlMin) * time.Minute)
	claims := jwt.MapClaims{
		"sub":     id.UserID,
		"email":   id.Email,
		"role":    id.RoleID,
		"account": id.AccountID,
		"name":    id.Name,
		"exp":     exp.Unix(),
		"iat":     now.Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// NewRefreshToken signs a minimal {sub} claim set with the refresh secret.
// The lifetime comes from a "<integer><unit>" string (unit s, m, h or d);
// an unparseable string falls back to DefaultRefreshTTL.
func NewRefreshToken(secret string, userID uint64, ttl string) (RefreshToken, error) {
	now := time.Now().UTC()
	exp := now.Add(ParseTTL(ttl))
	claims := jwt.MapClaims{
		"sub": userID,
		"exp": exp.Unix(),
		"iat": now.Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(secret))
	if err != nil {
		return RefreshToken{}, err
	}
	return RefreshToken{Token: signed, Exp: exp}, nil
}

// NewTokenPair issues an access and a refresh token for the same identity.
// The refresh token's subject is the access identity's user id.
func NewTokenPair(accessSecret, refreshSecret string, id Identity, accessTTLMin int, refreshTTL string) (TokenPair, error) {
	access, err := NewAccessToken(accessSecret, id, accessTTLMin)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := NewRefreshToken(refreshSecret, id.UserID, refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{Access: access, Refresh: refresh}, nil
}

// VerifyAccessToken checks signature and expiry against the access secret
// and returns the embedded identity. Any failure yields ErrInvalidToken.
func VerifyAccessToken(secret, raw string) (Identity, error) {
	claims, err := parseHS256(secret, raw)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	id := Identity{
		UserID:    claimUint64(claims, "sub"),
		RoleID:    claimUint64(claims, "role"),
		AccountID: claimUint64(claims, "account"),
	}
	if id.UserID == 0 {
		return Identity{}, ErrInvalidToken
	}
	if v, ok := claims["email"].(string); ok {
		id.Email = v
	}
	if v, ok := claims["name"].(string); ok {
		id.Name = v
	}
	return id, nil
}

// VerifyRefreshToken checks signature and expiry against the refresh secret
// and returns the subject user id. Any failure yields ErrInvalidToken.
func VerifyRefreshToken(secret, raw string) (uint64, error) {
	claims, err := parseHS256(secret, raw)
	if err != nil {
		return 0, ErrInvalidToken
	}
	sub := claimUint64(claims, "sub")
	if sub == 0 {
		return 0, ErrInvalidToken
	}
	return sub, nil
}

// ParseTTL parses a "<integer><unit>" lifetime where unit is s (seconds),
// m (minutes), h (hours) or d (days). Anything unparseable returns
// DefaultRefreshTTL.
func ParseTTL(s string) time.Duration {
	if len(s) < 2 {
		return DefaultRefreshTTL
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return DefaultRefreshTTL
	}
	switch s[len(s)-1] {
	case 's':
		return time.Duration(n) * time.Second
	case 'm':
		return time.Duration(n) * time.Minute
	case 'h':
		return time.Duration(n) * time.Hour
	case 'd':
		return time.Duration(n) * 24 * time.Hour
	}
	return DefaultRefreshTTL
}

// parseHS256 parses a token, enforcing the HMAC signing method. Expiry is
// validated by the library.
func parseHS256(secret, raw string) (jwt.MapClaims, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	})
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// claimUint64 reads a numeric claim. JSON numbers decode as float64; some
// issuers encode numeric strings instead.
func claimUint64(claims jwt.MapClaims, key string) uint64 {
	switch v := claims[key].(type) {
	case float64:
		return uint64(v)
	case string:
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
