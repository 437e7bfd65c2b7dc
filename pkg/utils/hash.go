package utils

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// MinAdminPasswordLength is the shortest admin password HashPassword accepts.
const MinAdminPasswordLength = 10

// ErrWeakPassword is returned for passwords shorter than MinAdminPasswordLength.
var ErrWeakPassword = errors.New("password too short")

// HashPassword returns the bcrypt hash stored in ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	if len(password) < MinAdminPasswordLength {
		return "", ErrWeakPassword
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CheckPassword reports whether plain matches the bcrypt hash. An unset hash never matches,
// so a deployment without ADMIN_PASSWORD_HASH has no working admin login.
func CheckPassword(plain, hashed string) bool {
	if hashed == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain)) == nil
}
