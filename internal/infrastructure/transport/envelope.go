package transport

import (
	"errors"
	"fmt"

	"texstream/internal/core/domain"
)

// Binary messages on every transport are one event code byte followed by the
// opaque payload. There is no length prefix or version: one transport message
// is one frame.

var ErrShortFrame = errors.New("frame too short")

// AppendFrame appends the wire form of (code, payload) to dst.
func AppendFrame(dst []byte, code domain.EventCode, payload []byte) []byte {
	dst = append(dst, byte(code))
	return append(dst, payload...)
}

// ParseFrame splits a wire message. The payload aliases msg.
func ParseFrame(msg []byte) (domain.EventCode, []byte, error) {
	if len(msg) < 1 {
		return 0, nil, ErrShortFrame
	}
	return domain.EventCode(msg[0]), msg[1:], nil
}

// AppendRoutedFrame is AppendFrame with the sender's id in front of the
// payload, for broadcast media where every member sees its own messages.
// Layout: [code][len(id)][id][payload].
func AppendRoutedFrame(dst []byte, code domain.EventCode, from domain.ParticipantID, payload []byte) ([]byte, error) {
	if len(from) > 255 {
		return nil, fmt.Errorf("participant id longer than 255 bytes")
	}
	dst = append(dst, byte(code), byte(len(from)))
	dst = append(dst, from...)
	return append(dst, payload...), nil
}

// ParseRoutedFrame is the inverse of AppendRoutedFrame. The payload aliases msg.
func ParseRoutedFrame(msg []byte) (domain.EventCode, domain.ParticipantID, []byte, error) {
	if len(msg) < 2 {
		return 0, "", nil, ErrShortFrame
	}
	n := int(msg[1])
	if len(msg) < 2+n {
		return 0, "", nil, ErrShortFrame
	}
	return domain.EventCode(msg[0]), domain.ParticipantID(msg[2 : 2+n]), msg[2+n:], nil
}
