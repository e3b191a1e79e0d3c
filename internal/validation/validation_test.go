package validation

import (
	"strings"
	"testing"
)

func TestValidateSessionID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"valid UUID", "550e8400-e29b-41d4-a716-446655440000", false},
		{"uppercase UUID", "550E8400-E29B-41D4-A716-446655440000", false},
		{"empty", "", true},
		{"not a UUID", "session-123", true},
		{"path traversal", "../../../etc/passwd", true},
		{"truncated", "550e8400-e29b-41d4-a716", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSessionID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSessionID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestValidateMessage(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		maxBytes int
		wantErr  bool
	}{
		{"simple message", "what is 2+2?", 1024, false},
		{"multi-line message", "line one\nline two", 1024, false},
		{"empty", "", 1024, true},
		{"too large", strings.Repeat("a", 1025), 1024, true},
		{"at limit", strings.Repeat("a", 1024), 1024, false},
		{"no limit", strings.Repeat("a", 100000), 0, false},
		{"invalid UTF-8", string([]byte{0xff, 0xfe}), 1024, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessage(tt.message, tt.maxBytes)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
