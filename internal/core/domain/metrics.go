package domain

import (
	"strconv"
	"time"
)

// FrameStats describes one transmitted frame.
type FrameStats struct {
	Width           int
	Height          int
	EncodedBytes    int
	CompressedBytes int
	Duration        time.Duration
}

// ThroughputReport is one closed reporting window on the receiver.
type ThroughputReport struct {
	Packets int
	Window  time.Duration
	At      time.Time
}

func (r ThroughputReport) String() string {
	return "Packets/sec: " + strconv.Itoa(r.Packets)
}
