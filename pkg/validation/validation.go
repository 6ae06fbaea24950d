package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// RoomCodeRegex validates room code format.
	RoomCodeRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

const (
	maxRoomCodeLen    = 32
	maxDisplayNameLen = 50
	maxChatTextLen    = 2000
)

// ValidateRoomCode validates a room code.
func ValidateRoomCode(code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("room code is required")
	}
	if len(code) > maxRoomCodeLen {
		return fmt.Errorf("room code is too long (max %d characters)", maxRoomCodeLen)
	}
	if !RoomCodeRegex.MatchString(code) {
		return fmt.Errorf("room code contains invalid characters (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidateDisplayName validates a member display name.
func ValidateDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("display name is required")
	}
	if utf8.RuneCountInString(name) > maxDisplayNameLen {
		return fmt.Errorf("display name is too long (max %d characters)", maxDisplayNameLen)
	}
	return nil
}

// ValidateChatText validates a chat message body.
func ValidateChatText(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("message text is required")
	}
	if utf8.RuneCountInString(text) > maxChatTextLen {
		return fmt.Errorf("message is too long (max %d characters)", maxChatTextLen)
	}
	return nil
}
