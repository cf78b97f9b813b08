package validation

import (
	"fmt"
	"regexp"
	"strings"

	"vigia/internal/core/domain"
	"vigia/pkg/utils"
)

var (
	// EmailRegex validates email format
	EmailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

	// SocketIDRegex validates the server-assigned socket id shape
	SocketIDRegex = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)
)

// ValidateEmail validates email address
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if len(email) > 254 {
		return fmt.Errorf("email is too long (max 254 characters)")
	}
	if !EmailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format")
	}
	return nil
}

// ValidateRole validates a signaling role claim
func ValidateRole(role string) error {
	switch domain.Role(role) {
	case domain.RoleParticipant, domain.RoleAdmin:
		return nil
	default:
		return fmt.Errorf("role must be %q or %q", domain.RoleParticipant, domain.RoleAdmin)
	}
}

// ValidateSocketID validates a socket id
func ValidateSocketID(socketID string) error {
	if socketID == "" {
		return fmt.Errorf("socket id is required")
	}
	if len(socketID) > 64 {
		return fmt.Errorf("socket id is too long (max 64 characters)")
	}
	if !SocketIDRegex.MatchString(socketID) {
		return fmt.Errorf("socket id contains invalid characters")
	}
	return nil
}

// ValidateStreamRecordID validates a stream record id
func ValidateStreamRecordID(id string) error {
	if id == "" {
		return fmt.Errorf("stream id is required")
	}
	if !utils.IsValidStreamID(id) {
		return fmt.Errorf("malformed stream id")
	}
	return nil
}

// ValidateUserID validates a user id claim
func ValidateUserID(userID int64) error {
	if userID <= 0 {
		return fmt.Errorf("user id must be positive")
	}
	return nil
}
