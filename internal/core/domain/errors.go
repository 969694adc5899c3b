package domain

import "errors"

var (
	ErrNotConnected        = errors.New("session not connected")
	ErrSessionClosed       = errors.New("session closed")
	ErrRoomFull            = errors.New("room is full")
	ErrParticipantNotFound = errors.New("participant not found")
)
