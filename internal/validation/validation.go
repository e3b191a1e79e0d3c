package validation

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

// uuidRegex matches standard UUID format
var uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// ValidateSessionID checks that the string is a valid session ID (UUID)
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session ID cannot be empty")
	}
	if !uuidRegex.MatchString(id) {
		return fmt.Errorf("invalid session ID format: %s", id)
	}
	return nil
}

// ValidateMessage checks that a user message is well-formed and within limits
func ValidateMessage(message string, maxBytes int) error {
	if message == "" {
		return fmt.Errorf("message cannot be empty")
	}
	if maxBytes > 0 && len(message) > maxBytes {
		return fmt.Errorf("message exceeds maximum size of %d bytes", maxBytes)
	}
	if !utf8.ValidString(message) {
		return fmt.Errorf("message is not valid UTF-8")
	}
	return nil
}
