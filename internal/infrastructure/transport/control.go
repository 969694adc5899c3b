package transport

import "texstream/internal/core/domain"

// Control message types exchanged as JSON text frames with the relay.
const (
	ControlWelcome           = "welcome"
	ControlMasterChanged     = "master_changed"
	ControlParticipantJoined = "participant_joined"
	ControlParticipantLeft   = "participant_left"
	ControlError             = "error"
)

// ControlMessage tells a participant about room membership. Master is the
// participant allowed to send the stream.
type ControlMessage struct {
	Type          string               `json:"type"`
	Room          domain.RoomID        `json:"room,omitempty"`
	ParticipantID domain.ParticipantID `json:"participant_id,omitempty"`
	MasterID      domain.ParticipantID `json:"master_id,omitempty"`
	Participants  int                  `json:"participants,omitempty"`
	Error         string               `json:"error,omitempty"`
}
