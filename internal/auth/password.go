package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt silently ignores input past 72 bytes; reject instead of truncating.
const maxPasswordLen = 72

var ErrPasswordTooLong = errors.New("password exceeds 72 bytes")

// HashPassword derives a bcrypt hash for storing in the user repository.
func HashPassword(password string) (string, error) {
	if len(password) > maxPasswordLen {
		return "", ErrPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether the plaintext matches the stored hash.
// Mismatch and malformed hash are both reported as false; login must not
// distinguish them.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
