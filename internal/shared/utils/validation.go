package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// String length limits
const (
	MaxIDLength   = 128
	MaxNameLength = 64
)

// Regular expressions for validation
var (
	// ClientIDPattern allows alphanumeric, dots, colons, hyphens, underscores
	ClientIDPattern = regexp.MustCompile(`^[a-zA-Z0-9.:_-]+$`)
	// NamePattern allows alphanumeric, dots, hyphens, underscores; component
	// names appear in URLs and metric labels.
	NamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

// ValidateString validates a string field with length and content checks
func ValidateString(value, fieldName string, minLen, maxLen int, required bool) error {
	if required && value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}

	if value == "" && !required {
		return nil
	}

	length := utf8.RuneCountInString(value)
	if length < minLen {
		return fmt.Errorf("%s must be at least %d characters", fieldName, minLen)
	}
	if length > maxLen {
		return fmt.Errorf("%s must not exceed %d characters", fieldName, maxLen)
	}

	if strings.Contains(value, "\x00") {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}

	return nil
}

// ValidateClientID validates an automation client identity.
func ValidateClientID(id string) error {
	if err := ValidateString(id, "client id", 1, MaxIDLength, true); err != nil {
		return err
	}
	if !ClientIDPattern.MatchString(id) {
		return fmt.Errorf("client id contains invalid characters (only alphanumeric, dots, colons, hyphens, and underscores allowed)")
	}
	return nil
}

// ValidateName validates a component name.
func ValidateName(name string) error {
	if err := ValidateString(name, "name", 1, MaxNameLength, true); err != nil {
		return err
	}
	if !NamePattern.MatchString(name) {
		return fmt.Errorf("name %q contains invalid characters (only alphanumeric, dots, hyphens, and underscores allowed)", name)
	}
	return nil
}
