package validation

import (
	"strings"
	"testing"
)

func TestValidateMessageContent(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantError bool
	}{
		{
			name:      "empty content is allowed",
			input:     "",
			wantError: false,
		},
		{
			name:      "short message",
			input:     "hey, did you see the new trailer?",
			wantError: false,
		},
		{
			name:      "content at max length",
			input:     strings.Repeat("a", MaxMessageLength),
			wantError: false,
		},
		{
			name:      "content exceeds max length by one",
			input:     strings.Repeat("a", MaxMessageLength+1),
			wantError: true,
		},
		{
			name:      "unicode content counted in bytes",
			input:     strings.Repeat("é", MaxMessageLength/2+1),
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessageContent(tt.input)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidateMessageContent() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestValidateEmoji(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantError bool
	}{
		{
			name:      "empty emoji rejected",
			input:     "",
			wantError: true,
		},
		{
			name:      "simple emoji",
			input:     "👍",
			wantError: false,
		},
		{
			name:      "emoji with skin tone modifier",
			input:     "👍🏽",
			wantError: false,
		},
		{
			name:      "oversized input rejected",
			input:     strings.Repeat("👍", 20),
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEmoji(tt.input)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidateEmoji() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestValidateUUID(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantError bool
	}{
		{
			name:      "canonical UUID",
			input:     "2b0e9f64-5f2a-4a8e-9c1d-0d5d7a1b2c3d",
			wantError: false,
		},
		{
			name:      "uppercase hex accepted",
			input:     "2B0E9F64-5F2A-4A8E-9C1D-0D5D7A1B2C3D",
			wantError: false,
		},
		{
			name:      "surrounding whitespace trimmed",
			input:     "  2b0e9f64-5f2a-4a8e-9c1d-0d5d7a1b2c3d  ",
			wantError: false,
		},
		{
			name:      "empty string rejected",
			input:     "",
			wantError: true,
		},
		{
			name:      "missing dashes rejected",
			input:     "2b0e9f645f2a4a8e9c1d0d5d7a1b2c3d",
			wantError: true,
		},
		{
			name:      "non-hex characters rejected",
			input:     "2b0e9f64-5f2a-4a8e-9c1d-0d5d7a1b2czz",
			wantError: true,
		},
		{
			name:      "too short rejected",
			input:     "2b0e9f64-5f2a",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUUID(tt.input, "conversation ID")
			if (err != nil) != tt.wantError {
				t.Errorf("ValidateUUID() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}
