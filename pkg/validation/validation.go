package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// RoomRegex validates room names
	RoomRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
)

const (
	MaxRoomLength = 64
	MaxNameLength = 50
)

// ValidateRoom validates a room name
func ValidateRoom(room string) error {
	if room == "" {
		return fmt.Errorf("room is required")
	}
	if len(room) > MaxRoomLength {
		return fmt.Errorf("room is too long (max %d characters)", MaxRoomLength)
	}
	if !RoomRegex.MatchString(room) {
		return fmt.Errorf("room contains invalid characters (only letters, numbers, _, -, . allowed)")
	}
	return nil
}

// ValidateParticipantName validates a display name. Empty names are allowed;
// the relay substitutes the participant id.
func ValidateParticipantName(name string) error {
	if !utf8.ValidString(name) {
		return fmt.Errorf("name must be valid UTF-8")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return fmt.Errorf("name is too long (max %d characters)", MaxNameLength)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("name contains control characters")
		}
	}
	return nil
}

// ValidateRelayURL checks that raw is a ws:// or wss:// URL with a host.
func ValidateRelayURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("relay url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid relay url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("relay url must use ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("relay url has no host")
	}
	return nil
}
