package utils

import "golang.org/x/crypto/bcrypt"

// HashPassword returns a bcrypt hash using the given cost. bcrypt salts
// internally, so equal passwords produce distinct digests.
func HashPassword(plain string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPassword safely compares a bcrypt hash and a plain password. A
// malformed digest verifies as false rather than erroring.
func VerifyPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
