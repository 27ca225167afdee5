package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

const (
	// MinPasswordLength is the minimum number of characters for a password.
	MinPasswordLength = 8
	// bcrypt only accepts 72 bytes of input.
	maxBcryptBytes = 72
)

var ErrPasswordTooShort = errors.New("password must be at least 8 characters")

// dummyHash is compared against when the user does not exist so that
// unknown emails cost the same as wrong passwords.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("pdfchat-dummy-password"), bcrypt.DefaultCost)

// bcryptInput returns the bytes handed to bcrypt. Passwords longer than
// bcrypt's limit are reduced to a base64 SHA-256 digest so every byte counts.
func bcryptInput(password string) []byte {
	if len(password) <= maxBcryptBytes {
		return []byte(password)
	}
	sum := sha256.Sum256([]byte(password))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}

// HashPassword returns a salted bcrypt hash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(bcryptInput(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored bcrypt hash.
// An empty hash is checked against a dummy hash and always fails.
func CheckPassword(password, stored string) bool {
	if stored == "" {
		_ = bcrypt.CompareHashAndPassword(dummyHash, bcryptInput(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), bcryptInput(password)) == nil
}

// ValidatePassword enforces the password policy.
func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	return nil
}
