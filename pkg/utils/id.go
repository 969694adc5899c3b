package utils

import (
	"github.com/google/uuid"
)

// NewParticipantID returns a random participant id.
func NewParticipantID() string {
	return uuid.NewString()
}

// NewInstanceID identifies one process on a shared bus.
func NewInstanceID(prefix string) string {
	id := uuid.New()
	return prefix + "-" + id.String()[:8]
}
