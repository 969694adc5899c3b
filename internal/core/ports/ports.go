package ports

import (
	"context"

	"texstream/internal/core/domain"
)

// CaptureSurface is the render target frames are read from.
type CaptureSurface interface {
	// Bind sizes the surface. Rebinding to new dimensions releases the old
	// target first; rebinding to the same dimensions is a no-op.
	Bind(width, height int) error
	// Snapshot copies the current frame into dst, which has the bound size.
	Snapshot(ctx context.Context, dst *domain.PixelBuffer) error
	Release() error
}

// MessageHandler receives one inbound payload. The slice is only valid for
// the duration of the call.
type MessageHandler func(payload []byte)

type Subscription interface {
	Unsubscribe()
}

// Session is a participant's view of the shared channel.
type Session interface {
	ID() domain.ParticipantID
	IsConnected() bool
	// IsAuthorizedSender reports whether this participant holds the sender role.
	IsAuthorizedSender() bool
	// Send delivers payload as one message tagged with code. Implementations
	// must not retain payload after returning.
	Send(ctx context.Context, code domain.EventCode, payload []byte, opts domain.SendOptions) error
	// Subscribe registers handler for messages tagged with code only.
	Subscribe(code domain.EventCode, handler MessageHandler) Subscription
	Close() error
}

// DisplayTarget presents decoded frames.
type DisplayTarget interface {
	// SetImage replaces the current image. The target must copy what it
	// keeps; frame is reused by the caller after SetImage returns.
	SetImage(frame *domain.PixelBuffer)
	SetVisible(visible bool)
}

// ThroughputSink is an optional DisplayTarget extension for the per-window
// packet counter.
type ThroughputSink interface {
	ReportThroughput(report domain.ThroughputReport)
}

// MetricsRecorder receives pipeline events. Implementations must be safe for
// concurrent use.
type MetricsRecorder interface {
	RecordFrameSent(stats domain.FrameStats)
	RecordFrameDropped(stage string)
	RecordSendFailure()
	RecordFrameReceived(payloadBytes int)
	RecordReceiveError(code string)
	RecordThroughput(packetsPerSecond int)
	RecordPoolStats(allocations, reuses uint64)
}
