package utils

import (
	"errors"
	"net/mail"
	"strings"
)

var (
	errInvalidEmail    = errors.New("invalid email")
	errPasswordTooWeak = errors.New("password must be 8-128 characters")
)

// NormalizeEmail lowercases and trims a login identifier.
func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// ValidatePassword enforces the length bounds only. Complexity rules
// live with the deployment, not here.
func ValidatePassword(raw string) error {
	if len(raw) < 8 || len(raw) > 128 {
		return errPasswordTooWeak
	}
	return nil
}

// ValidateEmail accepts addr-spec only (no display names, no groups).
func ValidateEmail(raw string) error {
	val := strings.TrimSpace(raw)
	if val == "" || len(val) > 254 {
		return errInvalidEmail
	}
	parsed, err := mail.ParseAddress(val)
	if err != nil || parsed.Address != val {
		return errInvalidEmail
	}
	return nil
}
