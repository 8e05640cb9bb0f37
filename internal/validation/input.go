package validation

import (
	"fmt"
	"strings"
)

// Input length limits to prevent resource exhaustion
const (
	MaxMessageLength = 100000 // 100KB for message content
	MaxEmojiLength   = 32     // multi-codepoint emoji with modifiers
	MaxURLLength     = 2048   // Standard browser URL limit
)

// ValidateMessageContent validates message content length.
// Note: Empty content is allowed (e.g., attachment-only messages).
// Callers should check if content is required before calling this function.
func ValidateMessageContent(content string) error {
	if content == "" {
		return nil // Empty content is allowed for attachment-only messages
	}

	// Use byte length for message content as it's transmitted as UTF-8
	length := len(content)
	if length > MaxMessageLength {
		return fmt.Errorf("message content exceeds maximum size of %d bytes (got %d)", MaxMessageLength, length)
	}

	return nil
}

// ValidateEmoji validates a reaction emoji string.
func ValidateEmoji(emoji string) error {
	if emoji == "" {
		return fmt.Errorf("emoji cannot be empty")
	}
	if len(emoji) > MaxEmojiLength {
		return fmt.Errorf("emoji exceeds maximum size of %d bytes (got %d)", MaxEmojiLength, len(emoji))
	}
	return nil
}

// ValidateUUID checks that a string looks like a canonical UUID. IDs come
// from user input on the command line, so a cheap shape check catches typos
// before they turn into confusing empty API results.
func ValidateUUID(s, fieldName string) error {
	s = strings.TrimSpace(s)
	if len(s) != 36 {
		return fmt.Errorf("invalid %s: expected a UUID", fieldName)
	}
	for i, r := range s {
		switch i {
		case 8, 13, 18, 23:
			if r != '-' {
				return fmt.Errorf("invalid %s: expected a UUID", fieldName)
			}
		default:
			isHex := (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
			if !isHex {
				return fmt.Errorf("invalid %s: expected a UUID", fieldName)
			}
		}
	}
	return nil
}
