package domain

import "time"

type ParticipantID string

type RoomID string

// EventCode discriminates message kinds sharing one transport channel.
type EventCode byte

// StreamEventCode tags frame payloads.
const StreamEventCode EventCode = 1

type Reliability int

const (
	ReliabilityReliable Reliability = iota
	ReliabilityUnreliable
)

type ReceiverGroup int

const (
	ReceiversOthers ReceiverGroup = iota
	ReceiversAll
)

type SendOptions struct {
	Reliability Reliability
	Receivers   ReceiverGroup
}

// FrameSendOptions is what the sender asks of the transport for every frame.
func FrameSendOptions() SendOptions {
	return SendOptions{
		Reliability: ReliabilityReliable,
		Receivers:   ReceiversOthers,
	}
}

type Participant struct {
	ID       ParticipantID `json:"id"`
	Name     string        `json:"name,omitempty"`
	Room     RoomID        `json:"room"`
	Master   bool          `json:"master"`
	JoinedAt time.Time     `json:"joined_at"`
}
