// Package auth implements credentials: password hashing, JWT session
// tokens with embedded CSRF secrets, and user API keys.
package auth

import (
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/nextlevelbuilder/across/internal/store"
)

// HashPassword bcrypt-hashes a plaintext password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword checks password against stored. Bcrypt hashes start with
// "$2"; anything else is treated as a legacy plaintext value and compared
// in constant time.
func VerifyPassword(password, stored string) bool {
	if stored == "" {
		return false
	}
	if strings.HasPrefix(stored, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(stored)) == 1
}

var specialChars = "!@#$%^&*()_+-=[]{};':\"\\|,.<>/?`~"

// ValidatePasswordStrength enforces the password policy: at least 8
// characters with upper, lower, digit and special characters.
func ValidatePasswordStrength(password string) error {
	var problems []string
	if len(password) < 8 {
		problems = append(problems, "at least 8 characters")
	}
	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(specialChars, r):
			special = true
		}
	}
	if !upper {
		problems = append(problems, "at least 1 uppercase letter")
	}
	if !lower {
		problems = append(problems, "at least 1 lowercase letter")
	}
	if !digit {
		problems = append(problems, "at least 1 digit")
	}
	if !special {
		problems = append(problems, "at least 1 special character")
	}
	if len(problems) > 0 {
		return store.NewValidation("Password must contain %s", strings.Join(problems, ", "))
	}
	return nil
}
