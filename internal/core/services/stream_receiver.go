package services

import (
	"context"
	"sync"
	"time"

	"texstream/internal/core/domain"
	"texstream/internal/core/ports"
	"texstream/internal/infrastructure/compression"
	"texstream/internal/infrastructure/imaging"
	apperrors "texstream/pkg/errors"
	"texstream/pkg/tracing"

	"go.uber.org/zap"
)

type ReceiverOption func(*StreamReceiver)

func WithReceiverMetrics(m ports.MetricsRecorder) ReceiverOption {
	return func(r *StreamReceiver) {
		if m != nil {
			r.metrics = m
		}
	}
}

func WithReceiverEventCode(code domain.EventCode) ReceiverOption {
	return func(r *StreamReceiver) { r.eventCode = code }
}

// WithThroughputWindow sets the reporting period used by Run.
func WithThroughputWindow(window time.Duration) ReceiverOption {
	return func(r *StreamReceiver) {
		if window > 0 {
			r.window = window
		}
	}
}

// WithMaxPayload bounds the decompressed size of one frame.
func WithMaxPayload(maxBytes int64) ReceiverOption {
	return func(r *StreamReceiver) {
		if maxBytes > 0 {
			r.maxPayload = maxBytes
		}
	}
}

// WithMaxFramePixels bounds the width*height a frame header may claim.
func WithMaxFramePixels(n int64) ReceiverOption {
	return func(r *StreamReceiver) {
		if n > 0 {
			r.maxPixels = n
		}
	}
}

// StreamReceiver decodes inbound frames onto a display target. The newest
// successfully decoded frame always wins; a frame that fails to decompress
// or decode is dropped and the display keeps what it had.
type StreamReceiver struct {
	session ports.Session
	display ports.DisplayTarget
	metrics ports.MetricsRecorder
	logger  *zap.SugaredLogger

	eventCode  domain.EventCode
	window     time.Duration
	maxPayload int64
	maxPixels  int64

	// mu serializes OnMessage with itself and with Advance, so transports
	// may deliver from any goroutine.
	mu           sync.Mutex
	decompressor *compression.Decompressor
	counter      *ThroughputCounter
	frame        *domain.PixelBuffer
	last         domain.ThroughputReport
	active       bool
	sub          ports.Subscription
	displayed    uint64
	rejected     uint64

	closeOnce sync.Once
}

func NewStreamReceiver(
	session ports.Session,
	display ports.DisplayTarget,
	logger *zap.SugaredLogger,
	opts ...ReceiverOption,
) *StreamReceiver {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	r := &StreamReceiver{
		session:    session,
		display:    display,
		metrics:    nopMetrics{},
		logger:     logger,
		eventCode:  domain.StreamEventCode,
		window:     DefaultThroughputWindow,
		maxPayload: compression.DefaultMaxOutput,
		maxPixels:  imaging.DefaultMaxPixels,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.decompressor = compression.NewDecompressor(r.maxPayload)
	r.counter = NewThroughputCounter(r.window)
	return r
}

// Activate subscribes to stream messages if this participant is connected
// and is not the sender. Otherwise the display is hidden and a configuration
// or eligibility error is returned. Activating twice is a no-op.
func (r *StreamReceiver) Activate() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active {
		return nil
	}
	if r.display == nil {
		return apperrors.NewConfigurationError("display target is not bound")
	}
	if r.session == nil {
		r.display.SetVisible(false)
		return apperrors.NewConfigurationError("session is not bound")
	}

	var err error
	switch {
	case !r.session.IsConnected():
		err = apperrors.NewEligibilityError("session is not connected")
	case r.session.IsAuthorizedSender():
		err = apperrors.NewEligibilityError("the sender does not receive its own stream")
	}
	if err != nil {
		r.display.SetVisible(false)
		r.logger.Warnw("stream receiver disabled", "participant_id", r.session.ID(), "error", err)
		return err
	}

	r.display.SetVisible(true)
	r.sub = r.session.Subscribe(r.eventCode, r.OnMessage)
	r.active = true

	r.logger.Infow("stream receiver active",
		"participant_id", r.session.ID(),
		"event_code", int(r.eventCode),
	)
	return nil
}

// OnMessage handles one wire payload: count it, decompress, decode and hand
// the frame to the display.
func (r *StreamReceiver) OnMessage(payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.counter.Increment()
	r.metrics.RecordFrameReceived(len(payload))

	ctx, span := tracing.TraceFrame(context.Background(), "receiver.message",
		tracing.PayloadBytesKey.Int(len(payload)),
	)
	defer span.End()

	raw, err := r.decompressor.Decompress(payload)
	if err != nil {
		r.reject(ctx, err)
		return
	}

	frame, err := imaging.DecodeLimited(raw, r.frame, r.maxPixels)
	if err != nil {
		r.reject(ctx, err)
		return
	}
	if frame != r.frame && r.frame != nil {
		r.logger.Infow("frame size changed",
			"width", frame.Width(),
			"height", frame.Height(),
			"previous_width", r.frame.Width(),
			"previous_height", r.frame.Height(),
		)
	}
	r.frame = frame

	tracing.AddSpanAttributes(ctx,
		tracing.WidthKey.Int(frame.Width()),
		tracing.HeightKey.Int(frame.Height()),
	)
	r.display.SetImage(frame)
	r.displayed++
}

func (r *StreamReceiver) reject(ctx context.Context, err error) {
	r.rejected++
	code := apperrors.CodeOf(err)
	r.metrics.RecordReceiveError(string(code))
	tracing.RecordError(ctx, err)
	r.logger.Warnw("frame dropped", "code", code, "error", err)
}

// Advance moves the throughput window forward by dt and publishes the report
// when the window closes.
func (r *StreamReceiver) Advance(dt time.Duration) (domain.ThroughputReport, bool) {
	r.mu.Lock()
	report, ok := r.counter.Advance(dt)
	if ok {
		r.last = report
	}
	r.mu.Unlock()

	if !ok {
		return report, false
	}

	if sink, isSink := r.display.(ports.ThroughputSink); isSink {
		sink.ReportThroughput(report)
	}
	r.metrics.RecordThroughput(report.Packets)
	r.logger.Debugw("throughput", "packets", report.Packets, "window", report.Window)
	return report, true
}

// Run reports throughput once per window until ctx is done.
func (r *StreamReceiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Advance(r.window)
		}
	}
}

// Close unsubscribes and hides the display. Safe to call more than once.
func (r *StreamReceiver) Close() error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		sub := r.sub
		wasActive := r.active
		r.sub = nil
		r.active = false
		r.mu.Unlock()

		if sub != nil {
			sub.Unsubscribe()
		}
		if wasActive {
			r.display.SetVisible(false)
		}
	})
	return nil
}

// Count is the number of messages in the open window.
func (r *StreamReceiver) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counter.Count()
}

// PacketsPerSecond is the figure from the last closed window.
func (r *StreamReceiver) PacketsPerSecond() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last.Packets
}

func (r *StreamReceiver) LastReport() domain.ThroughputReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Stats returns how many frames were displayed and rejected.
func (r *StreamReceiver) Stats() (displayed, rejected uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.displayed, r.rejected
}

func (r *StreamReceiver) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}
