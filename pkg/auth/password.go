package auth

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultBcryptCost balances verification latency against brute-force
	// resistance for interactive logins.
	DefaultBcryptCost = 12

	MinPasswordLen = 12
)

// SpecialCharacters is the fixed punctuation set accepted by the strength
// policy. Characters outside this set do not satisfy the symbol rule.
const SpecialCharacters = `!@#$%^&*(),.?"':{}|<>`

// HashPassword hashes with bcrypt at the given cost. A cost of zero or less
// falls back to DefaultBcryptCost.
func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", errors.New("password cannot be empty")
	}
	if cost <= 0 {
		cost = DefaultBcryptCost
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

// ComparePassword verifies a plaintext password against a stored hash using
// bcrypt's own constant-time comparison.
func ComparePassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// ValidateStrength checks the password rules in a fixed order and returns the
// first violation as an actionable message. Order: length, lowercase,
// uppercase, digit, special character.
func ValidateStrength(password string) error {
	if len(password) < MinPasswordLen {
		return fmt.Errorf("password must be at least %d characters long", MinPasswordLen)
	}

	hasLower := false
	hasUpper := false
	hasDigit := false
	hasSpecial := false
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune(SpecialCharacters, r):
			hasSpecial = true
		}
	}

	if !hasLower {
		return errors.New("password must contain at least one lowercase letter")
	}
	if !hasUpper {
		return errors.New("password must contain at least one uppercase letter")
	}
	if !hasDigit {
		return errors.New("password must contain at least one number")
	}
	if !hasSpecial {
		return errors.New("password must contain at least one special character")
	}

	return nil
}
